// Package worker validates builds asynchronously from selection events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/techcortex/buildcheck/internal/bus"
	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/scheduler"
	"github.com/techcortex/buildcheck/internal/validation"
)

// Worker consumes selection-changed events, debounces them per build and
// persists and publishes the outcome of each current run.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	source       *catalog.Source
	orchestrator *validation.Orchestrator

	delay       time.Duration
	idleTimeout time.Duration

	mu     sync.Mutex
	builds map[buildKey]*build
	// released keeps the last generation of builds whose debouncer was
	// reaped, so a later change continues the sequence.
	released map[buildKey]uint64

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

const minReapInterval = time.Second

type buildKey struct {
	tenantID string
	buildID  string
}

// build holds the debouncer of one build. traceID is read on delivery,
// which runs under the debouncer's lock, so it is kept atomic rather than
// behind Worker.mu.
type build struct {
	debouncer *scheduler.Debouncer
	traceID   atomic.Value // string
	lastSeen  time.Time
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to subscribe for.
	TenantIDs []string

	// Debounce is the quiet period before a run starts.
	Debounce time.Duration

	// IdleTimeout releases a build's debouncer after no changes for this long.
	IdleTimeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, source *catalog.Source, orchestrator *validation.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          eventBus,
		repo:         repo,
		source:       source,
		orchestrator: orchestrator,
		builds:       make(map[buildKey]*build),
		released:     make(map[buildKey]uint64),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to selection and catalog events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return fmt.Errorf("%w: worker needs at least one tenant", domain.ErrInvalidInput)
	}

	w.delay = cfg.Debounce
	w.idleTimeout = cfg.IdleTimeout

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	if w.idleTimeout > 0 {
		w.wg.Add(1)
		go w.reapIdle()
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"debounce_ms", w.delay.Milliseconds(),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSelectionChanged, func(ctx context.Context, msg *domain.Message) error {
		return w.handleSelection(tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	sub, err = w.bus.Subscribe(w.ctx, tenantID, domain.TopicCatalogChanged, func(ctx context.Context, msg *domain.Message) error {
		return w.source.Invalidate(ctx, tenantID)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSelectionChanged,
	)
	return nil
}

// handleSelection hands a selection change to the build's debouncer.
func (w *Worker) handleSelection(tenantID string, msg *domain.Message) error {
	var event domain.SelectionChanged
	if err := bus.Decode(msg, &event); err != nil {
		slog.Error("failed to parse selection event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if event.BuildID == "" {
		return fmt.Errorf("%w: selection event %s has no buildId", domain.ErrInvalidInput, msg.ID)
	}
	if event.TenantID != "" && event.TenantID != tenantID {
		slog.Warn("selection event tenant mismatch",
			"tenant_id", tenantID,
			"event_tenant_id", event.TenantID,
			"build_id", event.BuildID,
		)
		return fmt.Errorf("%w: event tenant %q on %q subscription", domain.ErrInvalidInput, event.TenantID, tenantID)
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.buildLocked(buildKey{tenantID: tenantID, buildID: event.BuildID})
	b.traceID.Store(traceID)
	b.lastSeen = time.Now()
	generation := b.debouncer.Submit(event.Selection)

	slog.Debug("selection change queued",
		"tenant_id", tenantID,
		"build_id", event.BuildID,
		"generation", generation,
		"trace_id", traceID,
	)
	return nil
}

// buildLocked returns the build for key, creating its debouncer on first
// use. Caller holds w.mu.
func (w *Worker) buildLocked(key buildKey) *build {
	if b, ok := w.builds[key]; ok {
		return b
	}

	b := &build{}
	b.traceID.Store("")
	b.debouncer = scheduler.NewDebouncer(w.ctx, w.delay, w.runner(key.tenantID), w.deliverer(key, b))
	if generation, ok := w.released[key]; ok {
		b.debouncer.Seed(generation)
		delete(w.released, key)
	}
	w.builds[key] = b
	return b
}

func (w *Worker) runner(tenantID string) scheduler.RunFunc {
	return func(ctx context.Context, sel domain.Selection) (*validation.Report, error) {
		snap, err := w.source.Load(ctx, tenantID, sel.PartIDs())
		if err != nil {
			return nil, err
		}
		return w.orchestrator.Run(ctx, snap, sel)
	}
}

func (w *Worker) deliverer(key buildKey, b *build) scheduler.DeliverFunc {
	return func(out scheduler.Outcome) {
		traceID, _ := b.traceID.Load().(string)

		if out.Err != nil {
			if !errors.Is(out.Err, context.Canceled) {
				slog.Error("validation run failed",
					"tenant_id", key.tenantID,
					"build_id", key.buildID,
					"generation", out.Generation,
					"trace_id", traceID,
					"error", out.Err,
				)
			}
			return
		}

		record := validation.Record(validation.RecordInput{
			TenantID:   key.tenantID,
			BuildID:    key.buildID,
			TraceID:    traceID,
			Generation: out.Generation,
			Selection:  out.Selection,
		}, out.Report)

		if w.repo != nil {
			if err := w.repo.SaveValidation(w.ctx, key.tenantID, record); err != nil {
				slog.Error("failed to save validation",
					"build_id", key.buildID,
					"validation_id", record.ID,
					"error", err,
				)
			}
		}

		event := domain.ValidationPublished{
			ValidationID: record.ID,
			BuildID:      key.buildID,
			Generation:   out.Generation,
			Result:       record.Result,
		}
		if err := bus.PublishJSON(w.ctx, w.bus, key.tenantID, domain.TopicValidationResult, event); err != nil {
			slog.Error("failed to publish validation",
				"build_id", key.buildID,
				"validation_id", record.ID,
				"error", err,
			)
		}

		slog.Info("build validated",
			"tenant_id", key.tenantID,
			"build_id", key.buildID,
			"validation_id", record.ID,
			"generation", out.Generation,
			"status", record.Result.Status,
			"stage", record.Result.Stage,
			"issues", len(record.Result.Issues),
			"warnings", len(record.Result.Warnings),
			"duration_ms", record.Metadata.TotalMs,
		)
	}
}

// Flush runs a build's pending selection immediately. It reports whether
// anything was pending.
func (w *Worker) Flush(tenantID, buildID string) bool {
	w.mu.Lock()
	b, ok := w.builds[buildKey{tenantID: tenantID, buildID: buildID}]
	w.mu.Unlock()
	if !ok {
		return false
	}
	return b.debouncer.Flush()
}

// reapIdle releases debouncers of builds that have gone quiet.
func (w *Worker) reapIdle() {
	defer w.wg.Done()

	ticker := time.NewTicker(reapInterval(w.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			for _, b := range w.takeIdle(now) {
				b.debouncer.Close()
			}
		}
	}
}

// reapInterval checks twice per idle timeout, but no more than once a second.
func reapInterval(idleTimeout time.Duration) time.Duration {
	return max(idleTimeout/2, minReapInterval)
}

func (w *Worker) takeIdle(now time.Time) []*build {
	if w.idleTimeout <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var idle []*build
	for key, b := range w.builds {
		if now.Sub(b.lastSeen) < w.idleTimeout || b.debouncer.Pending() {
			continue
		}
		delete(w.builds, key)
		w.released[key] = b.debouncer.Generation()
		idle = append(idle, b)
	}
	if len(idle) > 0 {
		slog.Debug("released idle builds", "count", len(idle))
	}
	return idle
}

// Stop gracefully stops all workers. Pending runs are discarded.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.mu.Lock()
	builds := w.builds
	w.builds = make(map[buildKey]*build)
	w.mu.Unlock()

	for _, b := range builds {
		b.debouncer.Close()
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	ActiveBuilds      int      `json:"activeBuilds"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}

	w.mu.Lock()
	active := len(w.builds)
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		ActiveBuilds:      active,
	}
}
