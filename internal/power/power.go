// Package power sums the power draw of a build and recommends a PSU size.
package power

import (
	"log/slog"
	"math"

	"github.com/techcortex/buildcheck/internal/domain"
)

const (
	// Headroom is the safety margin applied to the total draw.
	Headroom = 1.25

	// Step is the PSU size granularity in watts.
	Step = 50.0
)

// DefaultEstimates is the per-category fallback draw in watts, keyed by
// parent category slug. Declared part values always take precedence.
func DefaultEstimates() map[string]float64 {
	return map[string]float64{
		"processor":     65,
		"graphics-card": 150,
		"memory":        5,
		"storage":       10,
		"motherboard":   25,
		"cooling":       15,
		"case":          0,
		"power-supply":  0,
	}
}

// Aggregator computes build power totals.
type Aggregator struct {
	attributes []string
	estimates  map[string]float64
}

// NewAggregator creates an aggregator from engine config. Overrides in
// cfg.PowerEstimates replace individual defaults.
func NewAggregator(cfg domain.EngineConfig) *Aggregator {
	estimates := DefaultEstimates()
	for slug, watts := range cfg.PowerEstimates {
		estimates[slug] = watts
	}

	attributes := cfg.PowerAttributes
	if len(attributes) == 0 {
		attributes = domain.DefaultEngineConfig().PowerAttributes
	}

	return &Aggregator{attributes: attributes, estimates: estimates}
}

// AttributeLookup returns the value a part declares under an attribute
// name, however the catalog keys it.
type AttributeLookup func(part *domain.Part, name string) (any, bool)

// plainLookup reads the attribute name as a map key.
func plainLookup(part *domain.Part, name string) (any, bool) {
	v, ok := part.Attributes[name]
	return v, ok && v != nil
}

// Aggregate returns the total draw of parts and the recommended PSU size.
// categoryOf maps part id to the parent category slug of its slot. A part
// listed twice counts twice. A nil lookup reads attribute names directly.
func (a *Aggregator) Aggregate(parts []domain.Part, categoryOf map[string]string, lookup AttributeLookup) (total, recommended float64) {
	for i := range parts {
		total += a.PartDraw(&parts[i], categoryOf[parts[i].ID], lookup)
	}
	return total, RecommendedPSU(total)
}

// PartDraw returns the first usable declared draw of a part, trying the
// configured attributes in order, or the category estimate when none is.
func (a *Aggregator) PartDraw(part *domain.Part, slug string, lookup AttributeLookup) float64 {
	if lookup == nil {
		lookup = plainLookup
	}
	for _, name := range a.attributes {
		raw, ok := lookup(part, name)
		if !ok {
			continue
		}
		watts, ok := domain.NumericValue(raw)
		if !ok || watts < 0 || math.IsNaN(watts) || math.IsInf(watts, 0) {
			slog.Debug("ignoring declared power value",
				"part_id", part.ID,
				"attribute", name,
				"value", raw,
			)
			continue
		}
		return watts
	}
	return a.estimates[slug]
}

// Estimate returns the fallback draw for a category slug.
func (a *Aggregator) Estimate(slug string) float64 {
	return a.estimates[slug]
}

// RecommendedPSU applies the headroom and rounds up to the next step.
// A zero draw recommends zero.
func RecommendedPSU(totalWatts float64) float64 {
	if totalWatts <= 0 {
		return 0
	}
	return math.Ceil(totalWatts*Headroom/Step) * Step
}
