package engine

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/agent"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
)

func testEngine(t *testing.T) (*Engine, store.Store, *events.Broker) {
	t.Helper()
	s, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewFile failed: %v", err)
	}
	cfg := events.DefaultPollerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	poller := events.NewPoller(s, cfg, logger.NewNop())
	if err := poller.Start(context.Background()); err != nil {
		t.Fatalf("poller.Start failed: %v", err)
	}
	t.Cleanup(poller.Stop)
	broker := events.NewBroker(s, poller)

	registry := agent.NewRegistry()
	registry.Register(agent.NewEcho())

	eng := New(s, broker, registry, service.NewMessageService(s), logger.NewNop())
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, s, broker
}

func seedRun(t *testing.T, s store.Store, modelName string, expiresIn time.Duration) *model.Run {
	t.Helper()
	ctx := context.Background()
	name := "test thread"
	thread := &model.Thread{Name: &name}
	if err := s.Threads().Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	msg := &model.Message{
		ThreadID: thread.ID,
		ParentID: model.ParentRoot,
		Role:     model.RoleUser,
		Content:  model.Content{{Type: model.BlockText, Text: "hello world"}},
	}
	if err := s.Messages().Create(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	run := &model.Run{
		ThreadID:  thread.ID,
		Model:     modelName,
		ExpiresAt: time.Now().UTC().Add(expiresIn),
	}
	if err := s.Runs().Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

// waitTerminal polls the durable log until the run's stream closes. Polling
// avoids racing the dispatch: the log is complete whenever we read it.
func waitTerminal(t *testing.T, broker *events.Broker, runID string) []*model.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		log, err := broker.Replay(context.Background(), runID, 0)
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if n := len(log); n > 0 && model.TerminalEvent(log[n-1].EventType) {
			return log
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminal event for run %s, saw %d events", runID, len(log))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatchRunsToCompletion(t *testing.T) {
	eng, s, broker := testEngine(t)
	run := seedRun(t, s, agent.EchoName, time.Minute)

	eng.Dispatch(run.ID)
	ctx := context.Background()

	log := waitTerminal(t, broker, run.ID)
	if len(log) < 4 {
		t.Fatalf("got %d events, want at least in_progress, message, completed, done", len(log))
	}
	if log[0].EventType != model.EventRun {
		t.Errorf("first event = %s, want %s", log[0].EventType, model.EventRun)
	}
	last := log[len(log)-1]
	if last.EventType != model.EventDone {
		t.Errorf("last event = %s, want %s", last.EventType, model.EventDone)
	}
	var sawMessage, sawStepDelta bool
	for _, ev := range log {
		switch ev.EventType {
		case model.EventMessage:
			sawMessage = true
		case model.EventRunStepDelta:
			sawStepDelta = true
		}
	}
	if !sawMessage {
		t.Error("no thread.message event in log")
	}
	if !sawStepDelta {
		t.Error("no thread.run.step.delta event in log")
	}

	got, err := s.Runs().FindOne(ctx, run.ID)
	if err != nil {
		t.Fatalf("FindOne run: %v", err)
	}
	if status := got.Status(time.Now().UTC()); status != model.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", status)
	}

	msgs, err := s.MessagesByThread(ctx, run.ThreadID)
	if err != nil {
		t.Fatalf("MessagesByThread: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(msgs))
	}
	reply := msgs[1]
	if reply.Role != model.RoleAssistant {
		t.Errorf("second message role = %s, want assistant", reply.Role)
	}
	if reply.ParentID != msgs[0].ID {
		t.Errorf("assistant message parent = %s, want %s", reply.ParentID, msgs[0].ID)
	}
	if reply.RunID == nil || *reply.RunID != run.ID {
		t.Error("assistant message not attributed to the run")
	}
}

func TestDispatchUnknownModelFails(t *testing.T) {
	eng, s, broker := testEngine(t)
	run := seedRun(t, s, "no-such-model", time.Minute)

	eng.Dispatch(run.ID)
	seen := waitTerminal(t, broker, run.ID)

	last := seen[len(seen)-1]
	if last.EventType != model.EventError {
		t.Fatalf("terminal event = %s, want error", last.EventType)
	}

	got, err := s.Runs().FindOne(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("FindOne run: %v", err)
	}
	if status := got.Status(time.Now().UTC()); status != model.RunStatusFailed {
		t.Errorf("run status = %s, want failed", status)
	}
	if got.LastError == nil || got.LastError.Code != "unknown_model" {
		t.Errorf("last_error = %+v, want code unknown_model", got.LastError)
	}
}

func TestRequestCancelWithoutExecution(t *testing.T) {
	eng, s, broker := testEngine(t)
	run := seedRun(t, s, agent.EchoName, time.Minute)
	ctx := context.Background()

	// Never dispatched: cancellation confirms immediately.
	if err := eng.RequestCancel(ctx, run.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	got, err := s.Runs().FindOne(ctx, run.ID)
	if err != nil {
		t.Fatalf("FindOne run: %v", err)
	}
	if status := got.Status(time.Now().UTC()); status != model.RunStatusCancelled {
		t.Errorf("run status = %s, want cancelled", status)
	}

	log, err := broker.Replay(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(log) == 0 || log[len(log)-1].EventType != model.EventDone {
		t.Fatalf("stream not closed with done, got %d events", len(log))
	}
}
