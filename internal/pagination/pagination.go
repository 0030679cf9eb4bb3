// Package pagination implements cursor-based pagination over ordered
// collections. Cursors are entity ids; a cursor is an exclusive boundary, so
// after=X returns items strictly following X in the requested order.
package pagination

import (
	"github.com/loomhq/loom/internal/apierror"
)

// Order values accepted by list endpoints.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Limit bounds for list endpoints.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params are the validated pagination parameters of a list request.
type Params struct {
	After  string
	Before string
	Limit  int
	Order  string
}

// Normalize validates p and fills in defaults. Limit 0 becomes DefaultLimit;
// out-of-range limits and setting both cursors are InvalidArgument.
func (p Params) Normalize() (Params, error) {
	if p.After != "" && p.Before != "" {
		return p, apierror.InvalidArgument("only one of 'after' and 'before' may be set")
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return p, apierror.InvalidArgument("limit must be between 1 and %d, got %d", MaxLimit, p.Limit)
	}
	switch p.Order {
	case "":
		p.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return p, apierror.InvalidArgument("order must be 'asc' or 'desc', got %q", p.Order)
	}
	return p, nil
}

// Page is the list envelope returned by every list endpoint.
type Page[T any] struct {
	Object  string `json:"object"`
	Data    []T    `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}

// NewPage builds the envelope for an already-paginated slice.
func NewPage[T any](data []T, idOf func(T) string, hasMore bool) Page[T] {
	page := Page[T]{Object: "list", Data: data, HasMore: hasMore}
	if len(data) > 0 {
		page.FirstID = idOf(data[0])
		page.LastID = idOf(data[len(data)-1])
	}
	if page.Data == nil {
		page.Data = []T{}
	}
	return page
}

// Slice paginates an in-memory collection already sorted ascending by id.
// The requested order is applied first, then the cursor boundary, then the
// limit. Params must be normalized.
func Slice[T any](items []T, p Params, idOf func(T) string) (Page[T], error) {
	ordered := items
	if p.Order == OrderDesc {
		ordered = make([]T, len(items))
		for i, item := range items {
			ordered[len(items)-1-i] = item
		}
	}

	start, end := 0, len(ordered)
	switch {
	case p.After != "":
		idx := indexOf(ordered, p.After, idOf)
		if idx < 0 {
			return Page[T]{}, apierror.NotFound("cursor %q not found", p.After)
		}
		start = idx + 1
	case p.Before != "":
		idx := indexOf(ordered, p.Before, idOf)
		if idx < 0 {
			return Page[T]{}, apierror.NotFound("cursor %q not found", p.Before)
		}
		end = idx
		if end-start > p.Limit {
			start = end - p.Limit
		}
	}

	window := ordered[start:end]
	hasMore := false
	if p.Before != "" {
		hasMore = start > 0
	} else if len(window) > p.Limit {
		window = window[:p.Limit]
		hasMore = true
	}

	return NewPage(window, idOf, hasMore), nil
}

func indexOf[T any](items []T, id string, idOf func(T) string) int {
	for i, item := range items {
		if idOf(item) == id {
			return i
		}
	}
	return -1
}
