package engine

import (
	"context"
	"errors"
	"time"

	"github.com/loomhq/loom/internal/agent"
	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
)

// execute runs one dispatched run to a terminal state. Every exit path
// leaves the run record terminal (or derivably expired) and the event
// stream closed.
func (e *Engine) execute(runID string) error {
	run, err := e.store.Runs().FindOne(e.ctx, runID)
	if err != nil {
		return err
	}
	thread, err := e.store.Threads().FindOne(e.ctx, run.ThreadID)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithDeadline(e.ctx, run.ExpiresAt)
	defer cancelRun()

	x := &execution{runID: runID, cancel: cancelRun}
	e.track(x)
	defer e.untrack(runID)

	// Cancellation may land between run creation and dispatch.
	if run.TriedCancelingAt != nil {
		return e.confirmCancel(e.ctx, run)
	}

	run, err = e.store.MutateRun(e.ctx, runID, func(r *model.Run) error {
		return r.Start(time.Now().UTC())
	})
	if err != nil {
		return err
	}
	if _, err := e.broker.Publish(e.ctx, runID, run.ThreadID,
		model.EventRun, model.RunData{RunID: runID, Status: model.RunStatusInProgress}); err != nil {
		return err
	}

	history, err := e.messages.MainBranch(e.ctx, run.ThreadID)
	if err != nil {
		return e.fail(run, model.RunError{Code: "internal_error", Message: err.Error()})
	}

	ag, err := e.registry.Get(run.Model)
	if err != nil {
		return e.fail(run, model.RunError{Code: "unknown_model", Message: err.Error()})
	}

	execErr := ag.Execute(runCtx, &agent.Invocation{
		Run:     run,
		Thread:  thread,
		History: history,
		Emitter: &runEmitter{engine: e, run: run},
	})

	switch {
	case x.wasCancelled():
		return e.confirmCancel(e.ctx, run)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return e.expire(run)
	case execErr != nil:
		return e.fail(run, model.RunError{Code: "upstream_error", Message: execErr.Error()})
	default:
		return e.complete(run)
	}
}

func (e *Engine) complete(run *model.Run) error {
	run, err := e.store.MutateRun(e.ctx, run.ID, func(r *model.Run) error {
		return r.Complete(time.Now().UTC())
	})
	if err != nil {
		return err
	}
	e.closeStream(e.ctx, run, model.RunStatusCompleted)
	return nil
}

// fail records the error on the run and closes the stream with a terminal
// error event. The error event itself closes the log, so no done follows.
func (e *Engine) fail(run *model.Run, runErr model.RunError) error {
	run, err := e.store.MutateRun(e.ctx, run.ID, func(r *model.Run) error {
		return r.Fail(time.Now().UTC(), runErr)
	})
	if err != nil {
		return err
	}
	if _, err := e.broker.Publish(e.ctx, run.ID, run.ThreadID,
		model.EventError, model.ErrorData{Code: runErr.Code, Message: runErr.Message}); err != nil {
		e.log.Warn("publish error event", "run_id", run.ID, "error", err)
	}
	return nil
}

// expire closes an overdue run's stream without writing a terminal
// timestamp: expiry is derived from expires_at alone, so a crash between
// deadline and here changes nothing.
func (e *Engine) expire(run *model.Run) error {
	_, err := e.broker.Publish(e.ctx, run.ID, run.ThreadID,
		model.EventError, model.ErrorData{Code: "run_expired", Message: "run exceeded its expiry deadline"})
	if err != nil && !apierror.IsConflict(err) {
		return err
	}
	return nil
}

// runEmitter bridges an agent's output into storage and the event stream.
type runEmitter struct {
	engine *Engine
	run    *model.Run
}

func (m *runEmitter) NewMessageID() string {
	return ident.New(ident.PrefixMessage)
}

func (m *runEmitter) EmitMessageDelta(ctx context.Context, messageID string, index int, block model.Block) error {
	_, err := m.engine.broker.Publish(ctx, m.run.ID, m.run.ThreadID,
		model.EventMessageDelta, model.MessageDeltaData{MessageID: messageID, Index: index, Block: block})
	return err
}

func (m *runEmitter) FinishMessage(ctx context.Context, messageID string, content model.Content) (*model.Message, error) {
	msg, err := m.engine.messages.Create(ctx, m.run.ThreadID, service.CreateMessageRequest{
		ID:          messageID,
		Role:        model.RoleAssistant,
		Content:     content,
		AssistantID: m.run.AssistantID,
		RunID:       &m.run.ID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := m.engine.broker.Publish(ctx, m.run.ID, m.run.ThreadID,
		model.EventMessage, model.MessageData{Message: msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *runEmitter) EmitRunStep(ctx context.Context, step model.RunStepData) error {
	_, err := m.engine.broker.Publish(ctx, m.run.ID, m.run.ThreadID, model.EventRunStep, step)
	return err
}

func (m *runEmitter) EmitRunStepDelta(ctx context.Context, delta model.RunStepDeltaData) error {
	_, err := m.engine.broker.Publish(ctx, m.run.ID, m.run.ThreadID, model.EventRunStepDelta, delta)
	return err
}
