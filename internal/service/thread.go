// Package service implements the domain operations behind the HTTP surface:
// threads, the message tree, runs, files and the simple workspace-scoped
// resources. Services depend on the store interface only, never on a
// concrete backend.
package service

import (
	"context"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/repo"
	"github.com/loomhq/loom/internal/store"
)

// RunCanceller requests cooperative cancellation of a run. Implemented by
// the engine; an interface here breaks the service/engine import cycle.
type RunCanceller interface {
	RequestCancel(ctx context.Context, runID string) error
}

// ThreadService manages threads and their cascading deletion.
type ThreadService struct {
	store     store.Store
	canceller RunCanceller
}

// NewThreadService creates a thread service.
func NewThreadService(s store.Store) *ThreadService {
	return &ThreadService{store: s}
}

// SetCanceller wires the engine in after construction.
func (s *ThreadService) SetCanceller(c RunCanceller) {
	s.canceller = c
}

// Create makes a new empty thread.
func (s *ThreadService) Create(ctx context.Context, name *string) (*model.Thread, error) {
	thread := &model.Thread{Name: name}
	if err := s.store.Threads().Create(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// Get returns one thread.
func (s *ThreadService) Get(ctx context.Context, id string) (*model.Thread, error) {
	return s.store.Threads().FindOne(ctx, id)
}

// List returns a page of threads.
func (s *ThreadService) List(ctx context.Context, params pagination.Params) (pagination.Page[*model.Thread], error) {
	params, err := params.Normalize()
	if err != nil {
		return pagination.Page[*model.Thread]{}, err
	}
	return s.store.Threads().Find(ctx, repo.Query{Params: params})
}

// Rename updates a thread's name, the only mutable field.
func (s *ThreadService) Rename(ctx context.Context, id string, name *string) (*model.Thread, error) {
	thread, err := s.store.Threads().FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	thread.Name = name
	if err := s.store.Threads().Update(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// Delete removes a thread, cascading to its messages, runs and events. An
// active run is cancelled first so its goroutine stops appending.
func (s *ThreadService) Delete(ctx context.Context, id string) error {
	if s.canceller != nil {
		runs, err := s.store.Runs().All(ctx, map[string]any{"thread_id": id})
		if err != nil {
			return err
		}
		for _, run := range runs {
			if !run.Terminal() {
				// Best effort; the cascade removes the run either way.
				_ = s.canceller.RequestCancel(ctx, run.ID)
			}
		}
	}
	return s.store.DeleteThread(ctx, id)
}
