package rules

import "github.com/techcortex/buildcheck/internal/domain"

// Builtin custom check refs.
const (
	CheckNumericGTE     = "numeric_gte"
	CheckNumericLTE     = "numeric_lte"
	CheckContains       = "contains"
	CheckFormFactorFits = "form_factor_fits"
)

// RegisterBuiltins installs the custom checks shipped with buildcheck.
// Checks answer true when a value is not comparable, so missing or odd
// data never manufactures an error.
func RegisterBuiltins(e *Evaluator) error {
	builtins := map[string]CustomCheck{
		// secondary >= primary, e.g. cooler rating vs processor TDP
		CheckNumericGTE: func(primary, secondary any) bool {
			p, okP := domain.NumericValue(primary)
			s, okS := domain.NumericValue(secondary)
			return !okP || !okS || s >= p
		},
		// secondary <= primary, e.g. GPU length vs case clearance
		CheckNumericLTE: func(primary, secondary any) bool {
			p, okP := domain.NumericValue(primary)
			s, okS := domain.NumericValue(secondary)
			return !okP || !okS || s <= p
		},
		CheckContains:       containsAll,
		CheckFormFactorFits: containsAll,
	}

	for ref, check := range builtins {
		if err := e.Register(ref, check); err != nil {
			return err
		}
	}
	return nil
}

// containsAll reports whether every primary value appears in the secondary
// list (a list value or a comma separated string).
func containsAll(primary, secondary any) bool {
	supported := make(map[string]bool)
	for _, v := range domain.ValueList(secondary) {
		supported[domain.NormalizeValue(v)] = true
	}
	for _, v := range domain.ValueList(primary) {
		if !supported[domain.NormalizeValue(v)] {
			return false
		}
	}
	return true
}
