package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcortex/buildcheck/internal/catalog/catalogtest"
	"github.com/techcortex/buildcheck/internal/domain"
)

func TestCategoryBreakdown(t *testing.T) {
	categories := catalogtest.Catalog().Categories

	result := domain.ValidationResult{
		Issues: []domain.Finding{
			{Severity: domain.SeverityError, PrimaryLabel: "Processor", SecondaryLabel: "Motherboard", Message: "socket"},
			{Severity: domain.SeverityError, PrimaryLabel: domain.SystemLabel, SecondaryLabel: domain.ValidationLabel, Message: "unknown part"},
		},
		Warnings: []domain.Finding{
			{Severity: domain.SeverityWarning, PrimaryLabel: "graphics card", SecondaryLabel: "Power Supply", Message: "rule misconfigured"},
		},
	}

	breakdown := CategoryBreakdown(result, categories)
	require.Len(t, breakdown, 4)

	bySlug := make(map[string]CategoryFindings)
	for _, b := range breakdown {
		bySlug[b.Slug] = b
	}

	assert.Len(t, bySlug["processor"].Issues, 1)
	assert.Len(t, bySlug["motherboard"].Issues, 1)
	assert.Len(t, bySlug["graphics-card"].Warnings, 1, "labels match slugs with spaces")
	assert.Len(t, bySlug["power-supply"].Warnings, 1)
	assert.NotContains(t, bySlug, "memory")

	// Category order is preserved.
	assert.Equal(t, "processor", breakdown[0].Slug)
	assert.Equal(t, "motherboard", breakdown[1].Slug)
}

func TestCategoryBreakdownEmpty(t *testing.T) {
	assert.Empty(t, CategoryBreakdown(domain.ValidationResult{}, catalogtest.Catalog().Categories))
}

func TestBuiltins(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	require.NoError(t, RegisterBuiltins(eval))
	assert.ElementsMatch(t, []string{CheckNumericGTE, CheckNumericLTE, CheckContains, CheckFormFactorFits}, eval.Checks())

	tests := []struct {
		name      string
		check     CustomCheck
		primary   any
		secondary any
		want      bool
	}{
		{"ContainsList", containsAll, "DDR5", []any{"ddr4", "ddr5"}, true},
		{"ContainsCSV", containsAll, "Micro-ATX", "ATX, Micro-ATX", true},
		{"ContainsMissing", containsAll, "E-ATX", "ATX, Micro-ATX", false},
		{"ContainsEveryPrimary", containsAll, []any{"ATX", "SFX"}, "ATX", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.primary, tt.secondary))
		})
	}

	t.Run("NumericChecks", func(t *testing.T) {
		eval.mu.RLock()
		gte := eval.checks[CheckNumericGTE]
		lte := eval.checks[CheckNumericLTE]
		eval.mu.RUnlock()

		assert.True(t, gte(120, "150"))
		assert.False(t, gte(120.0, 95))
		assert.True(t, gte("n/a", 95), "non-numeric values never fail")
		assert.True(t, lte(330, 300))
		assert.False(t, lte(300, 336))
	})
}
