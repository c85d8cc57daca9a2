// Package scheduler debounces validation runs for one build and drops
// results that a newer selection has superseded.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/metrics"
	"github.com/techcortex/buildcheck/internal/validation"
)

// RunFunc performs one validation run. It should fetch its snapshot once
// and honour ctx, which is cancelled when the run is superseded.
type RunFunc func(ctx context.Context, sel domain.Selection) (*validation.Report, error)

// Outcome is a completed, current run.
type Outcome struct {
	Generation uint64
	Selection  domain.Selection
	Report     *validation.Report
	Err        error
}

// DeliverFunc receives current outcomes. It is called with the debouncer
// locked and must not call back into it.
type DeliverFunc func(Outcome)

// Debouncer coalesces selection changes into single runs. Every Submit
// bumps the generation, resets the timer and cancels any run in flight;
// a run's outcome is delivered only if no Submit happened since it was
// scheduled.
type Debouncer struct {
	mu         sync.Mutex
	ctx        context.Context
	delay      time.Duration
	run        RunFunc
	deliver    DeliverFunc
	generation uint64

	timer   *time.Timer
	pending *request
	cancel  context.CancelFunc

	closed bool
	wg     sync.WaitGroup
}

type request struct {
	generation uint64
	selection  domain.Selection
}

// NewDebouncer creates a debouncer. Runs inherit ctx.
func NewDebouncer(ctx context.Context, delay time.Duration, run RunFunc, deliver DeliverFunc) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{
		ctx:     ctx,
		delay:   delay,
		run:     run,
		deliver: deliver,
	}
}

// Submit schedules a run for sel and returns its generation token.
// The selection is copied.
func (d *Debouncer) Submit(sel domain.Selection) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.generation
	}

	d.generation++
	req := &request{generation: d.generation, selection: cloneSelection(sel)}

	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	d.pending = req
	d.timer = time.AfterFunc(d.delay, func() { d.fire(req) })
	return req.generation
}

// Generation returns the latest generation token.
func (d *Debouncer) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Seed raises the generation counter to at least generation. A debouncer
// that replaces a released one is seeded so its tokens keep increasing.
func (d *Debouncer) Seed(generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if generation > d.generation {
		d.generation = generation
	}
}

// Pending reports whether a run is waiting for its timer.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Flush runs the pending request now, on the caller's goroutine.
// It returns false when nothing was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	req := d.pending
	if req == nil || d.closed || !d.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	d.fire(req)
	return true
}

// Close cancels pending and in-flight runs and waits for them to return.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pending = nil
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Debouncer) fire(req *request) {
	d.mu.Lock()
	if d.closed || req.generation != d.generation {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancel = cancel
	d.pending = nil
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	defer cancel()

	report, err := d.run(ctx, req.selection)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || req.generation != d.generation || ctx.Err() != nil {
		metrics.SupersededRuns.Inc()
		slog.Debug("dropping superseded validation",
			"generation", req.generation,
			"current_generation", d.generation,
		)
		return
	}
	d.cancel = nil

	d.deliver(Outcome{
		Generation: req.generation,
		Selection:  req.selection,
		Report:     report,
		Err:        err,
	})
}

func cloneSelection(sel domain.Selection) domain.Selection {
	if sel == nil {
		return nil
	}
	out := make(domain.Selection, len(sel))
	for slug, ids := range sel {
		out[slug] = append(domain.SlotSelection(nil), ids...)
	}
	return out
}
