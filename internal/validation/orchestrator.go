// Package validation implements the progressive validation orchestrator:
// it decides whether a build is complete enough to evaluate, runs the
// pairwise rule evaluation and merges findings with the power totals into
// one ValidationResult.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/metrics"
	"github.com/techcortex/buildcheck/internal/power"
	"github.com/techcortex/buildcheck/internal/rules"
)

// EngineVersion is stamped on persisted validations.
const EngineVersion = "buildcheck-1.0"

var tracer = otel.Tracer("buildcheck-validation")

// Orchestrator runs validation. It holds no per-build state, so one
// instance serves every build concurrently.
type Orchestrator struct {
	evaluator  *rules.Evaluator
	power      *power.Aggregator
	core       map[string]bool
	maxWorkers int
}

// NewOrchestrator creates an orchestrator from engine config.
func NewOrchestrator(evaluator *rules.Evaluator, cfg domain.EngineConfig) *Orchestrator {
	core := cfg.CoreCategories
	if len(core) == 0 {
		core = domain.DefaultEngineConfig().CoreCategories
	}
	coreSet := make(map[string]bool, len(core))
	for _, slug := range core {
		coreSet[slug] = true
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	return &Orchestrator{
		evaluator:  evaluator,
		power:      power.NewAggregator(cfg),
		core:       coreSet,
		maxWorkers: maxWorkers,
	}
}

// Stats describes the work done by one run.
type Stats struct {
	Pairs          int
	RulesEvaluated int
	Duration       time.Duration
}

// Report is the outcome of one run. Result is a pure function of the
// snapshot and the selection; Stats is not.
type Report struct {
	Result domain.ValidationResult
	Stats  Stats
}

// slot is one normalized selection entry.
type slot struct {
	slug       string
	parentSlug string
	categoryID string // parent category id, used for rule lookup
	parts      []*domain.Part
}

// Validate runs the orchestrator without cancellation.
func (o *Orchestrator) Validate(snap *catalog.Snapshot, sel domain.Selection) domain.ValidationResult {
	report, _ := o.Run(context.Background(), snap, sel)
	return report.Result
}

// Run validates a selection against a snapshot. The only error returned is
// the context's, when the run was cancelled before it finished; the report
// is still well formed in that case.
func (o *Orchestrator) Run(ctx context.Context, snap *catalog.Snapshot, sel domain.Selection) (*Report, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "validation.Run",
		trace.WithAttributes(attribute.Int("selection.parts", sel.PartCount())),
	)
	defer span.End()

	result := domain.ValidationResult{
		Issues:   []domain.Finding{},
		Warnings: []domain.Finding{},
	}
	report := &Report{}

	slots, problems := o.normalize(snap, sel)
	if len(problems) > 0 {
		result.Issues = append(result.Issues, inconsistencyFinding(problems))
	}

	o.totals(&result, snap, slots)
	result.Stage = o.stage(sel, slots)

	var err error
	if result.Stage == domain.StageEvaluable {
		var findings, warnings []domain.Finding
		findings, warnings, report.Stats, err = o.evaluatePairs(ctx, snap, slots)
		result.Issues = append(result.Issues, findings...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	switch {
	case len(result.Issues) > 0:
		result.Status = domain.StatusError
	case len(result.Warnings) > 0:
		result.Status = domain.StatusWarning
	default:
		result.Status = domain.StatusValid
	}
	result.IsValid = len(result.Issues) == 0

	report.Result = result
	report.Stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("validation.stage", string(result.Stage)),
		attribute.String("validation.status", string(result.Status)),
		attribute.Int("validation.pairs", report.Stats.Pairs),
	)
	metrics.ValidationsTotal.WithLabelValues(string(result.Status), string(result.Stage)).Inc()
	metrics.ValidationDuration.Observe(report.Stats.Duration.Seconds())
	metrics.FindingsTotal.WithLabelValues(string(domain.SeverityError)).Add(float64(len(result.Issues)))
	metrics.FindingsTotal.WithLabelValues(string(domain.SeverityWarning)).Add(float64(len(result.Warnings)))

	slog.Debug("validation run",
		"stage", result.Stage,
		"status", result.Status,
		"issues", len(result.Issues),
		"warnings", len(result.Warnings),
		"pairs", report.Stats.Pairs,
		"duration_ms", report.Stats.Duration.Milliseconds(),
	)

	return report, err
}

// normalize resolves every slot against the snapshot. Anything the
// snapshot cannot account for is returned as a problem and left out.
func (o *Orchestrator) normalize(snap *catalog.Snapshot, sel domain.Selection) ([]slot, []string) {
	var (
		slots    []slot
		problems []string
	)

	for _, slug := range sel.Slugs() {
		category, ok := snap.CategoryBySlug(slug)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown slot %q", slug))
			continue
		}
		parent, _ := snap.ParentOfCategoryID(category.ID)

		ids := sel[slug]
		if len(ids) > 1 && !snap.IsMultiSelect(slug) {
			problems = append(problems, fmt.Sprintf("slot %q accepts one part, got %d", slug, len(ids)))
			ids = ids[:1]
		}

		s := slot{slug: slug, parentSlug: parent.Slug, categoryID: parent.ID}
		for _, id := range ids {
			part, ok := snap.Part(id)
			if !ok {
				problems = append(problems, fmt.Sprintf("part %q in slot %q not found", id, slug))
				continue
			}
			if !belongs(snap, part, category) {
				problems = append(problems, fmt.Sprintf("part %q does not belong to slot %q", id, slug))
				continue
			}
			s.parts = append(s.parts, part)
		}
		if len(s.parts) > 0 {
			slots = append(slots, s)
		}
	}
	return slots, problems
}

// belongs accepts a part of the slot's own category or, for a top-level
// slot, of one of its subcategories.
func belongs(snap *catalog.Snapshot, part *domain.Part, category *domain.Category) bool {
	if part.CategoryID == category.ID {
		return true
	}
	if category.IsSubcategory {
		return false
	}
	parent, ok := snap.ParentOfCategoryID(part.CategoryID)
	return ok && parent.ID == category.ID
}

func inconsistencyFinding(problems []string) domain.Finding {
	return domain.Finding{
		Severity:       domain.SeverityError,
		PrimaryLabel:   domain.SystemLabel,
		SecondaryLabel: domain.ValidationLabel,
		Message:        "build selection is inconsistent with the catalog",
		Details:        strings.Join(problems, "; "),
	}
}

// totals fills the power and pass-through price fields.
func (o *Orchestrator) totals(result *domain.ValidationResult, snap *catalog.Snapshot, slots []slot) {
	var parts []domain.Part
	categoryOf := make(map[string]string)
	seenUnavailable := make(map[string]bool)

	for _, s := range slots {
		for _, p := range s.parts {
			parts = append(parts, *p)
			categoryOf[p.ID] = s.parentSlug
			result.TotalPrice += p.Price
			if !p.InStock && !seenUnavailable[p.ID] {
				seenUnavailable[p.ID] = true
				result.UnavailableParts = append(result.UnavailableParts, p.ID)
			}
		}
	}

	result.TotalPowerDrawWatts, result.RecommendedPsuWatts = o.power.Aggregate(parts, categoryOf, snap.NamedValue)
}

// stage classifies the selection. Pairwise evaluation needs a core part
// plus at least one other part.
func (o *Orchestrator) stage(sel domain.Selection, slots []slot) domain.Stage {
	if sel.PartCount() == 0 {
		return domain.StageEmpty
	}

	hasCore := false
	parts := 0
	for _, s := range slots {
		if o.core[s.parentSlug] {
			hasCore = true
		}
		parts += len(s.parts)
	}
	if hasCore && parts >= 2 {
		return domain.StageEvaluable
	}
	return domain.StageInsufficient
}

// pairJob is one part pair with the rules relating their categories.
type pairJob struct {
	a, b     *domain.Part
	bindings []catalog.RuleBinding
}

type pairResult struct {
	findings []domain.Finding
	misfires []misfire
	rules    int
}

type misfire struct {
	rule *domain.CompatibilityRule
	err  error
}

// evaluatePairs evaluates every part pair across distinct slots.
// Jobs fan out over a bounded pool and are merged in job order, so output
// does not depend on scheduling.
func (o *Orchestrator) evaluatePairs(ctx context.Context, snap *catalog.Snapshot, slots []slot) ([]domain.Finding, []domain.Finding, Stats, error) {
	var jobs []pairJob
	for i := 0; i < len(slots); i++ {
		for j := i + 1; j < len(slots); j++ {
			bindings := snap.RulesBetween(slots[i].categoryID, slots[j].categoryID)
			if len(bindings) == 0 {
				continue
			}
			for _, a := range slots[i].parts {
				for _, b := range slots[j].parts {
					jobs = append(jobs, pairJob{a: a, b: b, bindings: bindings})
				}
			}
		}
	}

	results := make([]pairResult, len(jobs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.maxWorkers)

	for i := range jobs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			results[idx] = o.evaluatePair(snap, &jobs[idx])
		}(i)
	}
	wg.Wait()

	stats := Stats{Pairs: len(jobs)}
	var issues, warnings []domain.Finding
	misconfigured := make(map[string]bool)

	warn := func(m misfire) {
		if misconfigured[m.rule.ID] {
			return
		}
		misconfigured[m.rule.ID] = true
		metrics.RuleMisconfigurations.Inc()
		slog.Warn("rule misconfigured", "rule_id", m.rule.ID, "error", m.err)
		warnings = append(warnings, rules.MisconfiguredFinding(snap, m.rule, m.err))
	}

	for _, r := range results {
		stats.RulesEvaluated += r.rules
		issues = append(issues, r.findings...)
		for _, m := range r.misfires {
			warn(m)
		}
	}
	for _, m := range unboundMisfires(snap, slots) {
		warn(m)
	}

	return issues, warnings, stats, ctx.Err()
}

// unboundMisfires reports the rules that reference a missing category and
// would have applied to this build: those naming one of its categories, or
// naming no known category at all.
func unboundMisfires(snap *catalog.Snapshot, slots []slot) []misfire {
	unbound := snap.UnboundRules()
	if len(unbound) == 0 {
		return nil
	}

	inBuild := make(map[string]bool)
	for _, s := range slots {
		inBuild[s.categoryID] = true
		for _, p := range s.parts {
			inBuild[p.CategoryID] = true
		}
	}

	var out []misfire
	for _, b := range unbound {
		_, knownPrimary := snap.Category(b.Rule.PrimaryCategoryID)
		_, knownSecondary := snap.Category(b.Rule.SecondaryCategoryID)
		applies := inBuild[b.Rule.PrimaryCategoryID] || inBuild[b.Rule.SecondaryCategoryID] ||
			(!knownPrimary && !knownSecondary)
		if applies {
			out = append(out, misfire{rule: b.Rule, err: b.Err})
		}
	}
	return out
}

func (o *Orchestrator) evaluatePair(snap *catalog.Snapshot, job *pairJob) pairResult {
	var r pairResult
	for _, binding := range job.bindings {
		r.rules++
		finding, err := o.evaluator.EvaluateBinding(snap, binding, job.a, job.b)
		if err != nil {
			r.misfires = append(r.misfires, misfire{rule: binding.Rule, err: err})
			continue
		}
		if finding != nil {
			r.findings = append(r.findings, *finding)
		}
	}
	return r
}
