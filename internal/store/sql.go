package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/database"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/repo"
)

// SQLStore is the relational Store implementation.
type SQLStore struct {
	db         *database.DB
	threads    repo.Repository[*model.Thread]
	messages   repo.Repository[*model.Message]
	runs       repo.Repository[*model.Run]
	assistants repo.Repository[*model.Assistant]
	workflows  repo.Repository[*model.Workflow]
	files      repo.Repository[*model.File]
	mcpConfigs repo.Repository[*model.MCPConfig]
	events     *sqlEventLog
}

// NewSQL builds a Store over the relational database.
func NewSQL(db *database.DB) *SQLStore {
	return &SQLStore{
		db:         db,
		threads:    repo.NewSQL[model.Thread, *model.Thread](db.DB),
		messages:   repo.NewSQL[model.Message, *model.Message](db.DB),
		runs:       repo.NewSQL[model.Run, *model.Run](db.DB),
		assistants: repo.NewSQL[model.Assistant, *model.Assistant](db.DB),
		workflows:  repo.NewSQL[model.Workflow, *model.Workflow](db.DB),
		files:      repo.NewSQL[model.File, *model.File](db.DB),
		mcpConfigs: repo.NewSQL[model.MCPConfig, *model.MCPConfig](db.DB),
		events:     &sqlEventLog{db: db},
	}
}

func (s *SQLStore) Threads() repo.Repository[*model.Thread]       { return s.threads }
func (s *SQLStore) Messages() repo.Repository[*model.Message]     { return s.messages }
func (s *SQLStore) Runs() repo.Repository[*model.Run]             { return s.runs }
func (s *SQLStore) Assistants() repo.Repository[*model.Assistant] { return s.assistants }
func (s *SQLStore) Workflows() repo.Repository[*model.Workflow]   { return s.workflows }
func (s *SQLStore) Files() repo.Repository[*model.File]           { return s.files }
func (s *SQLStore) MCPConfigs() repo.Repository[*model.MCPConfig] { return s.mcpConfigs }
func (s *SQLStore) Events() EventLog                              { return s.events }

func (s *SQLStore) MessagesByThread(ctx context.Context, threadID string) ([]*model.Message, error) {
	return s.messages.All(ctx, map[string]any{"thread_id": threadID})
}

func (s *SQLStore) DeleteThread(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thread model.Thread
		if err := tx.First(&thread, "id = ?", threadID).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&model.Event{}).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&model.Run{}).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Thread{}, "id = ?", threadID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierror.NotFound("no such thread: %s", threadID)
		}
		return apierror.Storage(err, "delete thread %s", threadID)
	}
	return nil
}

func (s *SQLStore) CreateRun(ctx context.Context, run *model.Run) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The thread row lock serializes concurrent creates against one
		// thread, so the active-run check and the insert are atomic.
		var thread model.Thread
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&thread, "id = ?", run.ThreadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierror.NotFound("no such thread: %s", run.ThreadID)
			}
			return apierror.Storage(err, "find thread %s", run.ThreadID)
		}
		var existing []*model.Run
		if err := tx.Where("thread_id = ?", run.ThreadID).Find(&existing).Error; err != nil {
			return apierror.Storage(err, "list runs of thread %s", run.ThreadID)
		}
		now := time.Now().UTC()
		for _, r := range existing {
			if r.Active(now) {
				return apierror.Conflict("thread %s already has an active run: %s", run.ThreadID, r.ID)
			}
		}
		return tx.Create(run).Error
	})
	if err != nil {
		if apierror.KindOf(err) != 0 {
			return err
		}
		return apierror.Storage(err, "create run for thread %s", run.ThreadID)
	}
	return nil
}

func (s *SQLStore) MutateRun(ctx context.Context, id string, fn func(*model.Run) error) (*model.Run, error) {
	var run model.Run
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock serializes concurrent transitions of the same run.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apierror.NotFound("no such run: %s", id)
			}
			return apierror.Storage(err, "find run %s", id)
		}
		if err := fn(&run); err != nil {
			return err
		}
		return tx.Model(&run).Select("*").Omit("created_at").Updates(&run).Error
	})
	if err != nil {
		if apierror.KindOf(err) != 0 {
			return nil, err
		}
		return nil, apierror.Storage(err, "mutate run %s", id)
	}
	return &run, nil
}

// sqlEventLog stores events in the events table. The autoincrement id is the
// global ordinal; UNIQUE(run_id, sequence_num) backstops the single-writer
// sequence assignment.
type sqlEventLog struct {
	db *database.DB
}

func (l *sqlEventLog) Append(ctx context.Context, event *model.Event) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closed int64
		if err := tx.Model(&model.Event{}).
			Where("run_id = ? AND event_type IN ?", event.RunID, []string{model.EventDone, model.EventError}).
			Count(&closed).Error; err != nil {
			return apierror.Storage(err, "check log for run %s", event.RunID)
		}
		if closed > 0 {
			return apierror.Conflict("event log for run %s is closed", event.RunID)
		}

		var maxSeq int64
		if err := tx.Model(&model.Event{}).
			Where("run_id = ?", event.RunID).
			Select("COALESCE(MAX(sequence_num), 0)").
			Scan(&maxSeq).Error; err != nil {
			return apierror.Storage(err, "max sequence for run %s", event.RunID)
		}
		event.SequenceNum = maxSeq + 1

		if err := tx.Create(event).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apierror.Conflict("concurrent append to run %s at sequence %d", event.RunID, event.SequenceNum)
			}
			return apierror.Storage(err, "append event for run %s", event.RunID)
		}
		return nil
	})
	return err
}

func (l *sqlEventLog) Replay(ctx context.Context, runID string, fromSeq int64) ([]*model.Event, error) {
	var events []*model.Event
	err := l.db.WithContext(ctx).
		Where("run_id = ? AND sequence_num >= ?", runID, fromSeq).
		Order("sequence_num ASC").
		Find(&events).Error
	if err != nil {
		return nil, apierror.Storage(err, "replay run %s", runID)
	}
	return events, nil
}

func (l *sqlEventLog) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	var events []*model.Event
	err := l.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, apierror.Storage(err, "list events after %d", afterID)
	}
	return events, nil
}

func (l *sqlEventLog) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	err := l.db.WithContext(ctx).
		Model(&model.Event{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxID).Error
	if err != nil {
		return 0, apierror.Storage(err, "max event id")
	}
	return maxID, nil
}
