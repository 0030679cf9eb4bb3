package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	return s
}

func runEvent(runID, threadID, eventType string, data any) *model.Event {
	payload, _ := json.Marshal(data)
	return &model.Event{
		RunID:     runID,
		ThreadID:  threadID,
		EventType: eventType,
		EventData: payload,
	}
}

func TestEventLogSequenceMonotonic(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	runID := ident.New(ident.PrefixRun)

	for i := 0; i < 5; i++ {
		e := runEvent(runID, "thread_x", model.EventRun, model.RunData{RunID: runID, Status: model.RunStatusInProgress})
		if err := s.Events().Append(ctx, e); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if e.SequenceNum != int64(i+1) {
			t.Errorf("Append %d assigned sequence %d, want %d", i, e.SequenceNum, i+1)
		}
	}

	events, err := s.Events().Replay(ctx, runID, 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("Replay returned %d events, want 5", len(events))
	}
	for i, e := range events {
		if e.SequenceNum != int64(i+1) {
			t.Errorf("replayed[%d].sequence_num = %d, want %d", i, e.SequenceNum, i+1)
		}
	}
}

func TestEventLogClosedAfterDone(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	runID := ident.New(ident.PrefixRun)

	if err := s.Events().Append(ctx, runEvent(runID, "thread_x", model.EventDone, struct{}{})); err != nil {
		t.Fatalf("Append done failed: %v", err)
	}
	err := s.Events().Append(ctx, runEvent(runID, "thread_x", model.EventRun, model.RunData{}))
	if !apierror.IsConflict(err) {
		t.Errorf("append after done: want Conflict, got %v", err)
	}
}

func TestEventLogClosedAfterError(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	runID := ident.New(ident.PrefixRun)

	errEvent := runEvent(runID, "thread_x", model.EventError, model.ErrorData{Code: "upstream_error", Message: "boom"})
	if err := s.Events().Append(ctx, errEvent); err != nil {
		t.Fatalf("Append error failed: %v", err)
	}
	err := s.Events().Append(ctx, runEvent(runID, "thread_x", model.EventDone, struct{}{}))
	if !apierror.IsConflict(err) {
		t.Errorf("append after terminal error: want Conflict, got %v", err)
	}
}

func TestEventLogReplayFromSequence(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	runID := ident.New(ident.PrefixRun)

	for i := 0; i < 4; i++ {
		if err := s.Events().Append(ctx, runEvent(runID, "thread_x", model.EventRun, model.RunData{})); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	events, err := s.Events().Replay(ctx, runID, 3)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Replay from 3 returned %d events, want 2", len(events))
	}
	if events[0].SequenceNum != 3 || events[1].SequenceNum != 4 {
		t.Errorf("replay sequences = %d,%d, want 3,4", events[0].SequenceNum, events[1].SequenceNum)
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	thread := &model.Thread{}
	if err := s.Threads().Create(ctx, thread); err != nil {
		t.Fatalf("create thread failed: %v", err)
	}
	msg := &model.Message{ThreadID: thread.ID, ParentID: model.ParentRoot, Role: model.RoleUser, Content: model.TextContent("hi")}
	if err := s.Messages().Create(ctx, msg); err != nil {
		t.Fatalf("create message failed: %v", err)
	}
	run := &model.Run{ThreadID: thread.ID, Model: "echo", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Runs().Create(ctx, run); err != nil {
		t.Fatalf("create run failed: %v", err)
	}
	if err := s.Events().Append(ctx, runEvent(run.ID, thread.ID, model.EventDone, struct{}{})); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := s.DeleteThread(ctx, thread.ID); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}

	if _, err := s.Threads().FindOne(ctx, thread.ID); !apierror.IsNotFound(err) {
		t.Errorf("thread still present after delete: %v", err)
	}
	if _, err := s.Messages().FindOne(ctx, msg.ID); !apierror.IsNotFound(err) {
		t.Errorf("message still present after delete: %v", err)
	}
	if _, err := s.Runs().FindOne(ctx, run.ID); !apierror.IsNotFound(err) {
		t.Errorf("run still present after delete: %v", err)
	}
	events, err := s.Events().Replay(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("Replay after delete failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events still present after delete: %d", len(events))
	}

	if err := s.DeleteThread(ctx, thread.ID); !apierror.IsNotFound(err) {
		t.Errorf("second DeleteThread: want NotFound, got %v", err)
	}
}

func TestCreateRunConcurrentActiveGuard(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := &model.Run{ThreadID: "thread_x", Model: "echo", ExpiresAt: time.Now().Add(time.Hour)}
			results <- s.CreateRun(ctx, run)
		}()
	}
	wg.Wait()
	close(results)

	var created, conflicts int
	for err := range results {
		switch {
		case err == nil:
			created++
		case apierror.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	if created != 1 || conflicts != attempts-1 {
		t.Fatalf("got %d created and %d conflicts, want 1 and %d", created, conflicts, attempts-1)
	}
}

func TestMutateRunPersistsTransition(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	run := &model.Run{ThreadID: "thread_x", Model: "echo", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Runs().Create(ctx, run); err != nil {
		t.Fatalf("create run failed: %v", err)
	}

	updated, err := s.MutateRun(ctx, run.ID, func(r *model.Run) error {
		return r.Start(time.Now())
	})
	if err != nil {
		t.Fatalf("MutateRun failed: %v", err)
	}
	if updated.StartedAt == nil {
		t.Fatal("MutateRun did not set started_at")
	}

	got, err := s.Runs().FindOne(ctx, run.ID)
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if got.StartedAt == nil {
		t.Error("transition was not persisted")
	}
}
