// Package repo provides generic entity persistence with two interchangeable
// backends: relational tables over GORM and one-JSON-document-per-entity
// file storage. Callers depend on the Repository interface only; the backend
// is chosen at startup.
package repo

import (
	"context"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
)

// Query selects and paginates entities in a Find call. Filters are
// column-name equality conditions.
type Query struct {
	Filters map[string]any
	Params  pagination.Params
}

// Repository is the persistence contract for one entity type.
type Repository[T model.Entity] interface {
	// Create persists a new entity, assigning an id if unset. A duplicate
	// id is a Conflict; creation for a given id is atomic.
	Create(ctx context.Context, entity T) error
	// FindOne returns the entity with the given id, or NotFound.
	FindOne(ctx context.Context, id string) (T, error)
	// Update replaces the stored entity wholesale, or NotFound.
	Update(ctx context.Context, entity T) error
	// Delete removes the entity, or NotFound if absent.
	Delete(ctx context.Context, id string) error
	// Find returns a page of entities matching the query. Query params must
	// be normalized.
	Find(ctx context.Context, q Query) (pagination.Page[T], error)
	// All returns every entity matching the filters, ascending by id.
	All(ctx context.Context, filters map[string]any) ([]T, error)
	// Exists reports whether the id is present. Never errors on absence.
	Exists(ctx context.Context, id string) (bool, error)
}
