// Package engine executes runs. Each dispatched run gets its own goroutine
// bounded by the run's expiry deadline; the engine drives the run through
// its lifecycle, persists the terminal transition, and closes the run's
// event stream with a terminal event. A background sweep aborts anything
// that outlives its deadline.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/agent"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
)

// Engine dispatches and supervises run execution. It implements
// service.RunDispatcher and service.RunCanceller.
type Engine struct {
	store    store.Store
	broker   *events.Broker
	registry *agent.Registry
	messages *service.MessageService
	log      *logger.Logger

	sweepInterval time.Duration

	mu     sync.Mutex
	active map[string]*execution

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// execution is the in-process state of one running run.
type execution struct {
	runID  string
	cancel context.CancelFunc

	cancelledMu sync.Mutex
	cancelled   bool
}

func (x *execution) markCancelled() {
	x.cancelledMu.Lock()
	x.cancelled = true
	x.cancelledMu.Unlock()
	x.cancel()
}

func (x *execution) wasCancelled() bool {
	x.cancelledMu.Lock()
	defer x.cancelledMu.Unlock()
	return x.cancelled
}

// New creates an engine. Call Start before dispatching.
func New(s store.Store, broker *events.Broker, registry *agent.Registry, messages *service.MessageService, log *logger.Logger) *Engine {
	return &Engine{
		store:         s,
		broker:        broker,
		registry:      registry,
		messages:      messages,
		log:           log,
		sweepInterval: 30 * time.Second,
		active:        make(map[string]*execution),
	}
}

// Start launches the expiry sweep. The engine accepts dispatches until Stop.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop cancels all in-flight runs and waits for them to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Dispatch begins executing a run in the background. Unknown runs are
// logged and dropped; the caller has already persisted the run record.
func (e *Engine) Dispatch(runID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.execute(runID); err != nil {
			e.log.Error("run execution failed", "run_id", runID, "error", err)
		}
	}()
}

// RequestCancel marks a run as cancelling and interrupts its execution.
// If the run is not executing in this process (for example it was queued
// when the process restarted), the cancellation is confirmed immediately.
func (e *Engine) RequestCancel(ctx context.Context, runID string) error {
	run, err := e.store.MutateRun(ctx, runID, func(r *model.Run) error {
		return r.RequestCancel(time.Now().UTC())
	})
	if err != nil {
		return err
	}

	if _, err := e.broker.Publish(ctx, runID, run.ThreadID,
		model.EventRun, model.RunData{RunID: runID, Status: model.RunStatusCancelling}); err != nil {
		e.log.Warn("publish cancelling event", "run_id", runID, "error", err)
	}

	e.mu.Lock()
	x, running := e.active[runID]
	e.mu.Unlock()
	if running {
		x.markCancelled()
		return nil
	}
	return e.confirmCancel(ctx, run)
}

// confirmCancel finalizes a cancellation for a run with no live execution.
func (e *Engine) confirmCancel(ctx context.Context, run *model.Run) error {
	now := time.Now().UTC()
	run, err := e.store.MutateRun(ctx, run.ID, func(r *model.Run) error {
		return r.ConfirmCancel(now)
	})
	if err != nil {
		return err
	}
	e.closeStream(ctx, run, model.RunStatusCancelled)
	return nil
}

// closeStream emits the terminal run status followed by done. Publish
// conflicts mean the stream was already closed and are ignored.
func (e *Engine) closeStream(ctx context.Context, run *model.Run, status string) {
	if _, err := e.broker.Publish(ctx, run.ID, run.ThreadID,
		model.EventRun, model.RunData{RunID: run.ID, Status: status}); err != nil {
		e.log.Warn("publish terminal run event", "run_id", run.ID, "error", err)
		return
	}
	if _, err := e.broker.Publish(ctx, run.ID, run.ThreadID, model.EventDone, struct{}{}); err != nil {
		e.log.Warn("publish done event", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) track(x *execution) {
	e.mu.Lock()
	e.active[x.runID] = x
	e.mu.Unlock()
}

func (e *Engine) untrack(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}
