// Package rules evaluates compatibility rules against part pairs.
package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
)

// CELPrefix marks a custom check ref holding an inline CEL expression over
// the variables primary and secondary.
const CELPrefix = "cel:"

// CustomCheck decides a Custom rule. Returning false produces an Error
// finding.
type CustomCheck func(primary, secondary any) bool

// outcome is what a strategy decides for one pair.
type outcome struct {
	ok      bool
	message string
}

type strategyFunc func(e *Evaluator, in *pairInput) (outcome, error)

// pairInput carries one rule evaluation.
type pairInput struct {
	rule           *domain.CompatibilityRule
	primaryValue   any
	secondaryValue any
	primaryLabel   string
	secondaryLabel string
}

// Evaluator applies rules to part pairs. It is safe for concurrent use.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	checks   map[string]CustomCheck
	programs map[string]cel.Program

	strategies map[domain.RuleType]strategyFunc
}

// NewEvaluator creates an evaluator with an empty custom check table.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("primary", cel.DynType),
		cel.Variable("secondary", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		checks:   make(map[string]CustomCheck),
		programs: make(map[string]cel.Program),
		strategies: map[domain.RuleType]strategyFunc{
			domain.RuleExactMatch:       exactMatch,
			domain.RuleCompatibleValues: compatibleValues,
			domain.RuleRangeCheck:       rangeCheck,
			domain.RuleCustom:           custom,
		},
	}, nil
}

// Register adds or replaces a named custom check.
func (e *Evaluator) Register(ref string, check CustomCheck) error {
	if ref == "" || check == nil {
		return fmt.Errorf("%w: custom check needs a ref and a function", domain.ErrInvalidInput)
	}
	if strings.HasPrefix(ref, CELPrefix) {
		return fmt.Errorf("%w: ref %q uses the reserved %q prefix", domain.ErrInvalidInput, ref, CELPrefix)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[ref] = check
	return nil
}

// Checks returns the registered custom check refs.
func (e *Evaluator) Checks() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	refs := make([]string, 0, len(e.checks))
	for ref := range e.checks {
		refs = append(refs, ref)
	}
	return refs
}

// Evaluate applies one rule to a (primary, secondary) part pair, the parts
// given in the rule's declared order. It returns nil, nil when either side
// lacks a value or the pair is compatible, and a *domain.ConfigurationError
// when the rule cannot be evaluated.
func (e *Evaluator) Evaluate(snap *catalog.Snapshot, rule *domain.CompatibilityRule, primary, secondary *domain.Part) (*domain.Finding, error) {
	if err := rule.CheckPayload(); err != nil {
		return nil, err
	}

	primaryTpl, err := ruleTemplate(snap, rule, rule.PrimaryAttributeID)
	if err != nil {
		return nil, err
	}
	secondaryTpl, err := ruleTemplate(snap, rule, rule.SecondaryAttributeID)
	if err != nil {
		return nil, err
	}

	strategy, ok := e.strategies[rule.RuleType]
	if !ok {
		return nil, &domain.ConfigurationError{
			Subject: "rule " + rule.ID,
			Reason:  fmt.Sprintf("no strategy for rule type %q", rule.RuleType),
		}
	}

	primaryValue, ok := snap.AttributeValue(primary, rule.PrimaryAttributeID)
	if !ok {
		return nil, nil
	}
	secondaryValue, ok := snap.AttributeValue(secondary, rule.SecondaryAttributeID)
	if !ok {
		return nil, nil
	}

	in := &pairInput{
		rule:           rule,
		primaryValue:   primaryValue,
		secondaryValue: secondaryValue,
		primaryLabel:   categoryName(snap, rule.PrimaryCategoryID),
		secondaryLabel: categoryName(snap, rule.SecondaryCategoryID),
	}

	result, err := strategy(e, in)
	if err != nil {
		return nil, err
	}
	if result.ok {
		return nil, nil
	}

	return &domain.Finding{
		Severity:        domain.SeverityError,
		RuleID:          rule.ID,
		PrimaryLabel:    in.primaryLabel,
		SecondaryLabel:  in.secondaryLabel,
		PrimaryPartID:   primary.ID,
		SecondaryPartID: secondary.ID,
		Message:         result.message,
		Details:         details(rule, primaryTpl, secondaryTpl),
	}, nil
}

// EvaluateBinding evaluates a rule found through the rule store view for
// parts a and b, given in the order the pair was looked up.
func (e *Evaluator) EvaluateBinding(snap *catalog.Snapshot, b catalog.RuleBinding, a, other *domain.Part) (*domain.Finding, error) {
	if b.Err != nil {
		return nil, b.Err
	}
	if b.Swapped {
		return e.Evaluate(snap, b.Rule, other, a)
	}
	return e.Evaluate(snap, b.Rule, a, other)
}

// MisconfiguredFinding turns a configuration error into the Warning that
// replaces the skipped rule.
func MisconfiguredFinding(snap *catalog.Snapshot, rule *domain.CompatibilityRule, err error) domain.Finding {
	return domain.Finding{
		Severity:       domain.SeverityWarning,
		RuleID:         rule.ID,
		PrimaryLabel:   categoryName(snap, rule.PrimaryCategoryID),
		SecondaryLabel: categoryName(snap, rule.SecondaryCategoryID),
		Message:        fmt.Sprintf("rule misconfigured: %s", ruleName(rule)),
		Details:        err.Error(),
	}
}

func ruleTemplate(snap *catalog.Snapshot, rule *domain.CompatibilityRule, templateID string) (*domain.AttributeTemplate, error) {
	t, ok := snap.Template(templateID)
	if !ok {
		return nil, &domain.ConfigurationError{
			Subject: "rule " + rule.ID,
			Reason:  fmt.Sprintf("references unknown attribute %q", templateID),
		}
	}
	if err := t.Check(); err != nil {
		return nil, &domain.ConfigurationError{Subject: "rule " + rule.ID, Reason: err.Error()}
	}
	return t, nil
}

func categoryName(snap *catalog.Snapshot, categoryID string) string {
	if c, ok := snap.Category(categoryID); ok {
		return c.Name
	}
	return categoryID
}

func ruleName(rule *domain.CompatibilityRule) string {
	if rule.Name != "" {
		return rule.Name
	}
	return rule.ID
}

func details(rule *domain.CompatibilityRule, primary, secondary *domain.AttributeTemplate) string {
	d := fmt.Sprintf("%s: %s vs %s", ruleName(rule), primary.Label(), secondary.Label())
	if rule.Description != "" {
		d += " (" + rule.Description + ")"
	}
	return d
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

func exactMatch(_ *Evaluator, in *pairInput) (outcome, error) {
	if domain.NormalizeValue(in.primaryValue) == domain.NormalizeValue(in.secondaryValue) {
		return outcome{ok: true}, nil
	}
	return outcome{message: fmt.Sprintf("%s %s does not match %s %s",
		in.primaryLabel, domain.DisplayValue(in.primaryValue),
		in.secondaryLabel, domain.DisplayValue(in.secondaryValue),
	)}, nil
}

func compatibleValues(_ *Evaluator, in *pairInput) (outcome, error) {
	allowed := make(map[string]bool, len(in.rule.CompatibleValues))
	for _, v := range in.rule.CompatibleValues {
		allowed[domain.NormalizeValue(v)] = true
	}

	for _, v := range domain.ValueList(in.secondaryValue) {
		if !allowed[domain.NormalizeValue(v)] {
			return outcome{message: fmt.Sprintf("%s %s is not supported by %s (supported: %s)",
				in.secondaryLabel, domain.DisplayValue(v),
				in.primaryLabel, strings.Join(in.rule.CompatibleValues, ", "),
			)}, nil
		}
	}
	return outcome{ok: true}, nil
}

// rangeCheck enforces only the bounds the rule declares. When the rule has
// a minimum, a numeric primary value is the requirement declared by the
// primary part and takes its place.
func rangeCheck(_ *Evaluator, in *pairInput) (outcome, error) {
	value, ok := domain.NumericValue(in.secondaryValue)
	if !ok {
		return outcome{ok: true}, nil
	}

	minValue := in.rule.MinValue
	if required, ok := domain.NumericValue(in.primaryValue); ok && minValue != nil {
		minValue = &required
	}

	if minValue != nil && value < *minValue {
		return outcome{message: fmt.Sprintf("%s %s is below the minimum of %s required by %s",
			in.secondaryLabel, domain.DisplayValue(value), domain.DisplayValue(*minValue), in.primaryLabel,
		)}, nil
	}
	if upper := in.rule.MaxValue; upper != nil && value > *upper {
		return outcome{message: fmt.Sprintf("%s %s exceeds the maximum of %s supported by %s",
			in.secondaryLabel, domain.DisplayValue(value), domain.DisplayValue(*upper), in.primaryLabel,
		)}, nil
	}
	return outcome{ok: true}, nil
}

func custom(e *Evaluator, in *pairInput) (out outcome, err error) {
	check, err := e.resolve(in.rule)
	if err != nil {
		return outcome{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = &domain.ConfigurationError{
				Subject: "rule " + in.rule.ID,
				Reason:  fmt.Sprintf("custom check %q panicked: %v", in.rule.CustomCheckRef, r),
			}
		}
	}()

	passed, err := check(in.primaryValue, in.secondaryValue)
	if err != nil {
		return outcome{}, &domain.ConfigurationError{
			Subject: "rule " + in.rule.ID,
			Reason:  fmt.Sprintf("custom check %q failed: %v", in.rule.CustomCheckRef, err),
		}
	}
	if passed {
		return outcome{ok: true}, nil
	}
	return outcome{message: fmt.Sprintf("%s %s is incompatible with %s %s",
		in.primaryLabel, domain.DisplayValue(in.primaryValue),
		in.secondaryLabel, domain.DisplayValue(in.secondaryValue),
	)}, nil
}

type resolvedCheck func(primary, secondary any) (bool, error)

// resolve finds the function behind a custom check ref, compiling and
// caching CEL refs on first use.
func (e *Evaluator) resolve(rule *domain.CompatibilityRule) (resolvedCheck, error) {
	ref := rule.CustomCheckRef

	if !strings.HasPrefix(ref, CELPrefix) {
		e.mu.RLock()
		check, ok := e.checks[ref]
		e.mu.RUnlock()
		if !ok {
			return nil, &domain.ConfigurationError{
				Subject: "rule " + rule.ID,
				Reason:  fmt.Sprintf("unresolvable custom check %q", ref),
			}
		}
		return func(primary, secondary any) (bool, error) {
			return check(primary, secondary), nil
		}, nil
	}

	e.mu.RLock()
	program, ok := e.programs[ref]
	e.mu.RUnlock()

	if !ok {
		compiled, err := e.compile(strings.TrimPrefix(ref, CELPrefix))
		if err != nil {
			return nil, &domain.ConfigurationError{Subject: "rule " + rule.ID, Reason: err.Error()}
		}
		e.mu.Lock()
		e.programs[ref] = compiled
		e.mu.Unlock()
		program = compiled
	}

	return func(primary, secondary any) (bool, error) {
		out, _, err := program.Eval(map[string]any{
			"primary":   primary,
			"secondary": secondary,
		})
		if err != nil {
			return false, err
		}
		b, ok := out.(types.Bool)
		if !ok {
			return false, fmt.Errorf("expression returned %v, not bool", out.Type())
		}
		return bool(b), nil
	}, nil
}

// ValidateExpression compiles a CEL check without caching it.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.compile(expr)
	return err
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("check must return bool, got %s", outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}
