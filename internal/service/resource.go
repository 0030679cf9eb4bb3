package service

import (
	"context"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/repo"
)

// scoped constrains the simple workspace-visible resources (assistants,
// workflows, MCP configs).
type scoped interface {
	model.Entity
	model.WorkspaceScoped
}

// ResourceService is the shared CRUD service for the simple
// workspace-scoped resources. Creates stamp the caller's workspace; reads
// see the workspace's own resources plus global ones.
type ResourceService[T scoped] struct {
	repo repo.Repository[T]
}

// NewResourceService builds a resource service over one repository.
func NewResourceService[T scoped](r repo.Repository[T]) *ResourceService[T] {
	return &ResourceService[T]{repo: r}
}

// Create persists the resource, stamped with the caller's workspace when one
// is present.
func (s *ResourceService[T]) Create(ctx context.Context, workspace string, entity T) (T, error) {
	var zero T
	if workspace != "" {
		entity.SetWorkspaceID(&workspace)
	}
	if err := s.repo.Create(ctx, entity); err != nil {
		return zero, err
	}
	return entity, nil
}

// Get returns the resource if it is visible to the workspace.
func (s *ResourceService[T]) Get(ctx context.Context, workspace, id string) (T, error) {
	var zero T
	entity, err := s.repo.FindOne(ctx, id)
	if err != nil {
		return zero, err
	}
	if !visibleTo(entity, workspace) {
		return zero, apierror.NotFound("no such resource: %s", id)
	}
	return entity, nil
}

// List returns a page of resources visible to the workspace.
func (s *ResourceService[T]) List(ctx context.Context, workspace string, params pagination.Params) (pagination.Page[T], error) {
	var zero pagination.Page[T]
	params, err := params.Normalize()
	if err != nil {
		return zero, err
	}
	all, err := s.repo.All(ctx, nil)
	if err != nil {
		return zero, err
	}
	visible := all[:0:0]
	for _, e := range all {
		if visibleTo(e, workspace) {
			visible = append(visible, e)
		}
	}
	return pagination.Slice(visible, params, func(e T) string { return e.GetID() })
}

// Update replaces the resource wholesale, keeping its workspace stamp.
func (s *ResourceService[T]) Update(ctx context.Context, workspace string, entity T) (T, error) {
	var zero T
	current, err := s.Get(ctx, workspace, entity.GetID())
	if err != nil {
		return zero, err
	}
	entity.SetWorkspaceID(current.GetWorkspaceID())
	if err := s.repo.Update(ctx, entity); err != nil {
		return zero, err
	}
	return entity, nil
}

// Delete removes the resource if it is visible to the workspace.
func (s *ResourceService[T]) Delete(ctx context.Context, workspace, id string) error {
	if _, err := s.Get(ctx, workspace, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
