package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/catalog/catalogtest"
	"github.com/techcortex/buildcheck/internal/domain"
)

type fixture struct {
	data *domain.CatalogData
	snap *catalog.Snapshot
	eval *Evaluator
}

func newFixture(t *testing.T, mutate func(data *domain.CatalogData)) *fixture {
	t.Helper()

	data := catalogtest.Catalog()
	if mutate != nil {
		mutate(data)
	}
	snap, err := catalog.New(data, catalog.DefaultOptions())
	require.NoError(t, err)

	eval, err := NewEvaluator()
	require.NoError(t, err)
	require.NoError(t, RegisterBuiltins(eval))

	return &fixture{data: data, snap: snap, eval: eval}
}

func (f *fixture) part(t *testing.T, id string) *domain.Part {
	t.Helper()
	p, ok := f.snap.Part(id)
	require.True(t, ok, "part %s", id)
	return p
}

func (f *fixture) rule(t *testing.T, id string) *domain.CompatibilityRule {
	t.Helper()
	for _, r := range f.snap.Rules() {
		if r.ID == id {
			return &r
		}
	}
	t.Fatalf("rule %s not found", id)
	return nil
}

func (f *fixture) evaluate(t *testing.T, ruleID, primaryID, secondaryID string) (*domain.Finding, error) {
	t.Helper()
	return f.eval.Evaluate(f.snap, f.rule(t, ruleID), f.part(t, primaryID), f.part(t, secondaryID))
}

func TestExactMatch(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("MismatchedSockets", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-01-socket", catalogtest.CPUAM5, catalogtest.BoardAM4)
		require.NoError(t, err)
		require.NotNil(t, finding)

		assert.Equal(t, domain.SeverityError, finding.Severity)
		assert.Equal(t, "rule-01-socket", finding.RuleID)
		assert.Equal(t, catalogtest.CPUAM5, finding.PrimaryPartID)
		assert.Equal(t, catalogtest.BoardAM4, finding.SecondaryPartID)
		assert.Equal(t, "Processor", finding.PrimaryLabel)
		assert.Equal(t, "Motherboard", finding.SecondaryLabel)
		assert.Contains(t, finding.Message, `"AM5"`)
		assert.Contains(t, finding.Message, `"am4"`)
	})

	t.Run("MatchingSockets", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-01-socket", catalogtest.CPUAM5, catalogtest.BoardAM5)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("NormalizedComparison", func(t *testing.T) {
		// The AM4 board stores "am4 ".
		finding, err := f.evaluate(t, "rule-01-socket", catalogtest.CPUAM4, catalogtest.BoardAM4)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})
}

func TestCompatibleValues(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("UnsupportedConnector", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-04-connector", catalogtest.PSU500, catalogtest.GPU6Pin)
		require.NoError(t, err)
		require.NotNil(t, finding)
		assert.Equal(t, domain.SeverityError, finding.Severity)
		assert.Contains(t, finding.Message, "6-pin")
	})

	t.Run("SupportedConnector", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-04-connector", catalogtest.PSU500, catalogtest.GPU8Pin)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("ListValuedSecondary", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Part(data, catalogtest.GPU8Pin).Attributes["power_connector"] = []any{"8-PIN", "12VHPWR"}
		})
		finding, err := f.evaluate(t, "rule-04-connector", catalogtest.PSU500, catalogtest.GPU8Pin)
		require.NoError(t, err)
		require.NotNil(t, finding)
		assert.Contains(t, finding.Message, "12VHPWR")
	})
}

func TestRangeCheck(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("SupplyMeetsCardRequirement", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU500)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("SupplyBelowCardRequirement", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU450)
		require.NoError(t, err)
		require.NotNil(t, finding)
		assert.Equal(t, domain.SeverityError, finding.Severity)
		assert.Contains(t, finding.Message, "450")
		assert.Contains(t, finding.Message, "500")
	})

	t.Run("RuleMinimumWithoutNumericRequirement", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Part(data, catalogtest.GPU8Pin).Attributes["recommended_psu_power"] = "see manual"
		})
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU500)
		require.NoError(t, err)
		require.NotNil(t, finding, "500 is below the rule minimum of 550")

		finding, err = f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU750)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("MaximumBound", func(t *testing.T) {
		upper := 600.0
		f := newFixture(t, func(data *domain.CatalogData) {
			r := catalogtest.Rule(data, "rule-03-psu-wattage")
			r.MinValue = nil
			r.MaxValue = &upper
		})
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU750)
		require.NoError(t, err)
		require.NotNil(t, finding)
		assert.Contains(t, finding.Message, "maximum")
	})

	t.Run("MaximumOnlyIgnoresPrimaryRequirement", func(t *testing.T) {
		upper := 600.0
		f := newFixture(t, func(data *domain.CatalogData) {
			r := catalogtest.Rule(data, "rule-03-psu-wattage")
			r.MinValue = nil
			r.MaxValue = &upper
		})

		// The card asks for 500; with no rule minimum that is not a bound.
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU450)
		require.NoError(t, err)
		assert.Nil(t, finding)

		finding, err = f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU500)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("NonNumericSecondaryIsIgnored", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Part(data, catalogtest.PSU450).Attributes["wattage"] = "unknown"
		})
		finding, err := f.evaluate(t, "rule-03-psu-wattage", catalogtest.GPU8Pin, catalogtest.PSU450)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})
}

func TestCustomCheck(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("FormFactorFits", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseATX)
		require.NoError(t, err)
		assert.Nil(t, finding)
	})

	t.Run("FormFactorDoesNotFit", func(t *testing.T) {
		finding, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseITX)
		require.NoError(t, err)
		require.NotNil(t, finding)
		assert.Equal(t, domain.SeverityError, finding.Severity)
	})

	t.Run("UnresolvableRef", func(t *testing.T) {
		bare, err := NewEvaluator()
		require.NoError(t, err)

		_, err = bare.Evaluate(f.snap, f.rule(t, "rule-05-form-factor"), f.part(t, catalogtest.BoardAM5), f.part(t, catalogtest.CaseATX))
		require.Error(t, err)
		assert.True(t, domain.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "unresolvable")
	})

	t.Run("CELExpression", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Rule(data, "rule-05-form-factor").CustomCheckRef = `cel:secondary.contains(primary)`
		})
		finding, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseATX)
		require.NoError(t, err)
		assert.Nil(t, finding)

		finding, err = f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseITX)
		require.NoError(t, err)
		assert.NotNil(t, finding)
	})

	t.Run("CELCompileError", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Rule(data, "rule-05-form-factor").CustomCheckRef = "cel:this is not CEL !!!"
		})
		_, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseATX)
		assert.True(t, domain.IsConfigurationError(err))
	})

	t.Run("CELNonBoolResult", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Rule(data, "rule-05-form-factor").CustomCheckRef = "cel:primary"
		})
		_, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseATX)
		assert.True(t, domain.IsConfigurationError(err))
	})

	t.Run("PanickingCheck", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.eval.Register(CheckFormFactorFits, func(primary, secondary any) bool {
			panic("boom")
		}))
		_, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseATX)
		require.Error(t, err)
		assert.True(t, domain.IsConfigurationError(err))
	})

	t.Run("RegisterRejectsReservedPrefix", func(t *testing.T) {
		err := f.eval.Register("cel:mine", func(any, any) bool { return true })
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestMissingValues(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name      string
		ruleID    string
		primary   string
		secondary string
	}{
		{"PrimaryWithoutSocket", "rule-01-socket", catalogtest.CPUNoSocket, catalogtest.BoardAM4},
		{"SecondaryWithBlankSocket", "rule-01-socket", catalogtest.CPUAM5, catalogtest.BoardNoValue},
		{"BoardWithoutMemoryType", "rule-02-memory", catalogtest.BoardNoValue, catalogtest.RAMDDR4},
		{"CustomWithoutFormFactor", "rule-05-form-factor", catalogtest.BoardNoValue, catalogtest.CaseITX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finding, err := f.evaluate(t, tt.ruleID, tt.primary, tt.secondary)
			assert.NoError(t, err)
			assert.Nil(t, finding)
		})
	}
}

func TestMisconfiguredRules(t *testing.T) {
	t.Run("ForeignPayload", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			catalogtest.Rule(data, "rule-01-socket").CompatibleValues = []string{"AM5"}
		})
		_, err := f.evaluate(t, "rule-01-socket", catalogtest.CPUAM5, catalogtest.BoardAM4)
		assert.True(t, domain.IsConfigurationError(err))
	})

	t.Run("EnumTemplateWithoutValues", func(t *testing.T) {
		f := newFixture(t, func(data *domain.CatalogData) {
			data.Templates[0].EnumValues = nil
		})
		_, err := f.evaluate(t, "rule-01-socket", catalogtest.CPUAM5, catalogtest.BoardAM4)
		assert.True(t, domain.IsConfigurationError(err))
	})

	t.Run("MisconfiguredFinding", func(t *testing.T) {
		f := newFixture(t, nil)
		rule := f.rule(t, "rule-01-socket")
		finding := MisconfiguredFinding(f.snap, rule, &domain.ConfigurationError{Subject: "rule x", Reason: "bad"})

		assert.Equal(t, domain.SeverityWarning, finding.Severity)
		assert.Equal(t, "rule misconfigured: CPU socket", finding.Message)
		assert.Equal(t, "Processor", finding.PrimaryLabel)
		assert.Contains(t, finding.Details, "bad")
	})
}

func TestEvaluateBinding(t *testing.T) {
	f := newFixture(t, nil)

	bindings := f.snap.RulesBetween(catalogtest.Board, catalogtest.CPU)
	require.Len(t, bindings, 1)
	require.True(t, bindings[0].Swapped)

	finding, err := f.eval.EvaluateBinding(f.snap, bindings[0], f.part(t, catalogtest.BoardAM4), f.part(t, catalogtest.CPUAM5))
	require.NoError(t, err)
	require.NotNil(t, finding)
	assert.Equal(t, catalogtest.CPUAM5, finding.PrimaryPartID, "parts are put back in declared order")
	assert.Equal(t, catalogtest.BoardAM4, finding.SecondaryPartID)
}

func TestEvaluateConcurrent(t *testing.T) {
	f := newFixture(t, func(data *domain.CatalogData) {
		catalogtest.Rule(data, "rule-05-form-factor").CustomCheckRef = `cel:secondary.contains(primary)`
	})

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.evaluate(t, "rule-05-form-factor", catalogtest.BoardAM5, catalogtest.CaseITX); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
