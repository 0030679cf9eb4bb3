package service

import (
	"context"
	"time"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/repo"
	"github.com/loomhq/loom/internal/store"
)

// RunDispatcher starts background execution of a queued run. Implemented by
// the engine.
type RunDispatcher interface {
	Dispatch(runID string)
	RequestCancel(ctx context.Context, runID string) error
}

// RunService creates and queries runs. One run at a time owns a thread;
// creating a second active run against the same thread is a Conflict.
type RunService struct {
	store      store.Store
	dispatcher RunDispatcher
	expiresIn  time.Duration
}

// NewRunService creates a run service. Runs expire expiresIn after creation.
func NewRunService(s store.Store, expiresIn time.Duration) *RunService {
	return &RunService{store: s, expiresIn: expiresIn}
}

// SetDispatcher wires the engine in after construction.
func (s *RunService) SetDispatcher(d RunDispatcher) {
	s.dispatcher = d
}

// CreateRunRequest are the parameters for starting a run.
type CreateRunRequest struct {
	ThreadID     string
	AssistantID  *string
	WorkflowID   *string
	Model        string
	Instructions string
}

// Create persists a queued run and dispatches its background execution. The
// call returns once the record exists, not once the run finishes.
func (s *RunService) Create(ctx context.Context, req CreateRunRequest) (*model.Run, error) {
	if _, err := s.store.Threads().FindOne(ctx, req.ThreadID); err != nil {
		return nil, err
	}

	runModel := req.Model
	instructions := req.Instructions

	if req.WorkflowID != nil {
		workflow, err := s.store.Workflows().FindOne(ctx, *req.WorkflowID)
		if err != nil {
			return nil, err
		}
		if req.AssistantID == nil {
			req.AssistantID = workflow.AssistantID
		}
	}
	if req.AssistantID != nil {
		assistant, err := s.store.Assistants().FindOne(ctx, *req.AssistantID)
		if err != nil {
			return nil, err
		}
		if runModel == "" {
			runModel = assistant.Model
		}
		if instructions == "" && assistant.Instructions != nil {
			instructions = *assistant.Instructions
		}
	}
	if runModel == "" {
		return nil, apierror.InvalidArgument("run requires a model or an assistant")
	}

	run := &model.Run{
		ThreadID:     req.ThreadID,
		AssistantID:  req.AssistantID,
		WorkflowID:   req.WorkflowID,
		Model:        runModel,
		Instructions: instructions,
		ExpiresAt:    time.Now().UTC().Add(s.expiresIn),
	}
	// The store enforces one active run per thread atomically.
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(run.ID)
	}
	return run, nil
}

// Get returns one run.
func (s *RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	return s.store.Runs().FindOne(ctx, id)
}

// List returns a page of runs, optionally filtered to one thread.
func (s *RunService) List(ctx context.Context, threadID string, params pagination.Params) (pagination.Page[*model.Run], error) {
	params, err := params.Normalize()
	if err != nil {
		return pagination.Page[*model.Run]{}, err
	}
	q := repo.Query{Params: params}
	if threadID != "" {
		q.Filters = map[string]any{"thread_id": threadID}
	}
	return s.store.Runs().Find(ctx, q)
}

// ModifyRequest is the body of a run PATCH. Status is the only mutable
// field after creation.
type ModifyRequest struct {
	Status string
	// Extra holds any other field names the caller tried to change.
	Extra []string
}

// Modify applies a status-only mutation. The single accepted transition is a
// cancellation request; everything else is InvalidArgument.
func (s *RunService) Modify(ctx context.Context, id string, req ModifyRequest) (*model.Run, error) {
	if len(req.Extra) > 0 {
		return nil, apierror.InvalidArgument("only the status field may be modified, got %v", req.Extra)
	}
	if req.Status != model.RunStatusCancelled && req.Status != model.RunStatusCancelling {
		return nil, apierror.InvalidArgument("status may only be set to %q, got %q", model.RunStatusCancelled, req.Status)
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.RequestCancel(ctx, id); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.store.MutateRun(ctx, id, func(r *model.Run) error {
			return r.RequestCancel(time.Now().UTC())
		}); err != nil {
			return nil, err
		}
	}
	return s.store.Runs().FindOne(ctx, id)
}
