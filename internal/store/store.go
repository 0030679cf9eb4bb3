// Package store exposes domain persistence: the per-entity repositories plus
// the operations the generic interface cannot express: cascading thread
// deletion, serialized run mutation and the per-run event log. Two
// implementations exist, relational and file-backed, chosen at startup.
package store

import (
	"context"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/repo"
)

// Store is the persistence surface the services depend on.
type Store interface {
	Threads() repo.Repository[*model.Thread]
	Messages() repo.Repository[*model.Message]
	Runs() repo.Repository[*model.Run]
	Assistants() repo.Repository[*model.Assistant]
	Workflows() repo.Repository[*model.Workflow]
	Files() repo.Repository[*model.File]
	MCPConfigs() repo.Repository[*model.MCPConfig]
	Events() EventLog

	// MessagesByThread returns every message of a thread ascending by id,
	// for tree traversal.
	MessagesByThread(ctx context.Context, threadID string) ([]*model.Message, error)

	// DeleteThread removes a thread and cascades to its messages, runs and
	// events. NotFound if the thread is absent.
	DeleteThread(ctx context.Context, threadID string) error

	// CreateRun persists a queued run, enforcing at most one active run per
	// thread atomically with the check. Conflict when the thread already has
	// an active run.
	CreateRun(ctx context.Context, run *model.Run) error

	// MutateRun applies fn to the current run record and persists the result.
	// The relational backend serializes concurrent mutations of one run; the
	// file backend serializes within the process only.
	MutateRun(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error)
}

// EventLog is the append-only, per-run sequenced event store.
type EventLog interface {
	// Append assigns the run's next sequence number (starting at 1) and
	// persists the event. Appending after a done or terminal error event is
	// a Conflict: the log is closed.
	Append(ctx context.Context, event *model.Event) error

	// Replay returns the durable log of a run from the given sequence number
	// (inclusive), in order. Sequence 0 or 1 replays from the start.
	Replay(ctx context.Context, runID string, fromSeq int64) ([]*model.Event, error)

	// ListAfter returns events with a global ordinal greater than afterID,
	// across all runs, in ordinal order. The live poller drives fan-out from
	// this; durable replay uses per-run sequence numbers instead.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)

	// MaxID returns the highest assigned global ordinal, 0 when empty.
	MaxID(ctx context.Context) (int64, error)
}
