package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techcortex/buildcheck/internal/bus"
	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/catalog/catalogtest"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/rules"
	"github.com/techcortex/buildcheck/internal/validation"
)

const tenantID = "tenant-001"

type harness struct {
	bus     *bus.ChannelBus
	repo    *catalogtest.Repository
	worker  *Worker
	results chan domain.ValidationPublished
}

func newHarness(t *testing.T, debounce time.Duration) *harness {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	repo := catalogtest.NewRepository(catalogtest.Catalog())
	source := catalog.NewSource(repo, nil, catalog.DefaultOptions(), 0)

	eval, err := rules.NewEvaluator()
	require.NoError(t, err)
	require.NoError(t, rules.RegisterBuiltins(eval))
	orchestrator := validation.NewOrchestrator(eval, domain.DefaultEngineConfig())

	w := NewWorker(eventBus, repo, source, orchestrator)
	require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}, Debounce: debounce}))
	t.Cleanup(func() { w.Stop() })

	results := make(chan domain.ValidationPublished, 10)
	_, err = eventBus.Subscribe(context.Background(), tenantID, domain.TopicValidationResult, func(ctx context.Context, msg *domain.Message) error {
		var event domain.ValidationPublished
		if err := bus.Decode(msg, &event); err != nil {
			return err
		}
		results <- event
		return nil
	})
	require.NoError(t, err)

	return &harness{bus: eventBus, repo: repo, worker: w, results: results}
}

func (h *harness) publish(t *testing.T, buildID string, sel domain.Selection) {
	t.Helper()
	event := domain.SelectionChanged{TenantID: tenantID, BuildID: buildID, Selection: sel}
	require.NoError(t, bus.PublishJSON(context.Background(), h.bus, tenantID, domain.TopicSelectionChanged, event))
}

func (h *harness) next(t *testing.T) domain.ValidationPublished {
	t.Helper()
	select {
	case event := <-h.results:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for validation result")
		return domain.ValidationPublished{}
	}
}

func TestWorkerDebouncesSelectionChanges(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	// A and B pair the AM5 processor with an AM4 board; C fixes it.
	h.publish(t, "build-1", domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM4}})
	h.publish(t, "build-1", domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM4}, "memory": {catalogtest.RAMDDR4}})
	h.publish(t, "build-1", domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM5}})

	event := h.next(t)
	assert.Equal(t, "build-1", event.BuildID)
	assert.Equal(t, uint64(3), event.Generation)
	assert.True(t, event.Result.IsValid)
	assert.Equal(t, domain.StageEvaluable, event.Result.Stage)

	select {
	case extra := <-h.results:
		t.Fatalf("unexpected extra result: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}

	saved := h.repo.Validations()
	require.Len(t, saved, 1)
	assert.Equal(t, event.ValidationID, saved[0].ID)
	assert.Equal(t, tenantID, saved[0].TenantID)
	assert.Equal(t, uint64(3), saved[0].Metadata.Generation)
	assert.Equal(t, validation.EngineVersion, saved[0].Metadata.EngineVersion)
	assert.NotEmpty(t, saved[0].Metadata.TraceID)
	assert.Equal(t, domain.SlotSelection{catalogtest.BoardAM5}, saved[0].Selection["motherboard"])
}

func TestWorkerReportsIncompatibility(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)

	h.publish(t, "build-2", domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM4}})

	event := h.next(t)
	assert.False(t, event.Result.IsValid)
	assert.Equal(t, domain.StatusError, event.Result.Status)
	require.Len(t, event.Result.Issues, 1)
	assert.Equal(t, "rule-01-socket", event.Result.Issues[0].RuleID)
}

func TestWorkerBuildsAreIndependent(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	h.publish(t, "build-a", domain.Selection{"processor": {catalogtest.CPUAM5}})
	h.publish(t, "build-b", domain.Selection{"memory": {catalogtest.RAMDDR5}})

	seen := map[string]domain.ValidationPublished{}
	for i := 0; i < 2; i++ {
		event := h.next(t)
		seen[event.BuildID] = event
	}

	require.Contains(t, seen, "build-a")
	require.Contains(t, seen, "build-b")
	assert.Equal(t, uint64(1), seen["build-a"].Generation)
	assert.Equal(t, uint64(1), seen["build-b"].Generation)
	assert.Equal(t, domain.StageInsufficient, seen["build-a"].Result.Stage)
	assert.Equal(t, 2, h.worker.GetStats().ActiveBuilds)
}

func TestWorkerFlush(t *testing.T) {
	h := newHarness(t, time.Hour)

	assert.False(t, h.worker.Flush(tenantID, "build-3"), "unknown build")

	h.publish(t, "build-3", domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM5}})
	require.Eventually(t, func() bool {
		return h.worker.GetStats().ActiveBuilds == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, h.worker.Flush(tenantID, "build-3"))
	event := h.next(t)
	assert.Equal(t, "build-3", event.BuildID)
}

func TestWorkerRejectsBadEvents(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	err := h.worker.handleSelection(tenantID, &domain.Message{ID: "m1", Topic: domain.TopicSelectionChanged, Payload: []byte("nope")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = h.worker.handleSelection(tenantID, &domain.Message{ID: "m2", Topic: domain.TopicSelectionChanged, Payload: []byte(`{"selection":{}}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "missing build id")

	err = h.worker.handleSelection(tenantID, &domain.Message{ID: "m3", Topic: domain.TopicSelectionChanged, Payload: []byte(`{"tenantId":"other","buildId":"b","selection":{}}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "tenant mismatch")

	assert.Zero(t, h.worker.GetStats().ActiveBuilds)
}

func TestWorkerReleasesIdleBuilds(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	h.publish(t, "build-4", domain.Selection{"processor": {catalogtest.CPUAM5}})
	h.next(t)

	released := h.worker.takeIdle(time.Now().Add(time.Hour))
	assert.Len(t, released, 0, "idle timeout disabled")

	h.worker.idleTimeout = time.Minute
	released = h.worker.takeIdle(time.Now().Add(time.Hour))
	assert.Len(t, released, 1)
	for _, b := range released {
		b.debouncer.Close()
	}
	assert.Zero(t, h.worker.GetStats().ActiveBuilds)
}

func TestWorkerGenerationSurvivesRelease(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	sel := domain.Selection{"processor": {catalogtest.CPUAM5}}

	h.publish(t, "build-5", sel)
	assert.Equal(t, uint64(1), h.next(t).Generation)

	h.worker.idleTimeout = time.Minute
	released := h.worker.takeIdle(time.Now().Add(time.Hour))
	require.Len(t, released, 1)
	for _, b := range released {
		b.debouncer.Close()
	}

	h.publish(t, "build-5", sel)
	assert.Equal(t, uint64(2), h.next(t).Generation)

	h.publish(t, "build-6", sel)
	assert.Equal(t, uint64(1), h.next(t).Generation, "other builds keep their own sequence")
}

func TestReapInterval(t *testing.T) {
	assert.Equal(t, time.Second, reapInterval(time.Nanosecond))
	assert.Equal(t, time.Second, reapInterval(time.Second))
	assert.Equal(t, 5*time.Minute, reapInterval(10*time.Minute))
}

func TestWorkerTinyIdleTimeout(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	repo := catalogtest.NewRepository(catalogtest.Catalog())
	eval, err := rules.NewEvaluator()
	require.NoError(t, err)
	w := NewWorker(eventBus, repo, catalog.NewSource(repo, nil, catalog.DefaultOptions(), 0), validation.NewOrchestrator(eval, domain.DefaultEngineConfig()))

	require.NotPanics(t, func() {
		require.NoError(t, w.Start(Config{TenantIDs: []string{"t1"}, IdleTimeout: time.Nanosecond}))
	})
	require.NoError(t, w.Stop())
}

func TestWorkerStartStop(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	repo := catalogtest.NewRepository(catalogtest.Catalog())
	eval, err := rules.NewEvaluator()
	require.NoError(t, err)
	w := NewWorker(eventBus, repo, catalog.NewSource(repo, nil, catalog.DefaultOptions(), 0), validation.NewOrchestrator(eval, domain.DefaultEngineConfig()))

	assert.ErrorIs(t, w.Start(Config{}), domain.ErrInvalidInput)

	require.NoError(t, w.Start(Config{TenantIDs: []string{"t1", "t2"}, Debounce: time.Millisecond}))
	stats := w.GetStats()
	assert.Equal(t, 4, stats.SubscriptionCount)
	assert.Contains(t, stats.Topics, domain.TopicSelectionChanged)
	assert.Contains(t, stats.Topics, domain.TopicCatalogChanged)

	require.NoError(t, w.Stop())
	assert.Zero(t, w.GetStats().SubscriptionCount)
}
