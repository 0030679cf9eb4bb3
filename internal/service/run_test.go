package service

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/store"
)

func testRuns(t *testing.T) (*RunService, store.Store, string) {
	t.Helper()
	s, err := store.NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("store.NewFile failed: %v", err)
	}
	thread := &model.Thread{}
	if err := s.Threads().Create(context.Background(), thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return NewRunService(s, time.Minute), s, thread.ID
}

func TestCreateRunResolvesAssistant(t *testing.T) {
	svc, s, threadID := testRuns(t)
	ctx := context.Background()

	instructions := "be terse"
	assistant := &model.Assistant{Name: "helper", Model: "echo", Instructions: &instructions}
	if err := s.Assistants().Create(ctx, assistant); err != nil {
		t.Fatalf("create assistant: %v", err)
	}

	run, err := svc.Create(ctx, CreateRunRequest{ThreadID: threadID, AssistantID: &assistant.ID})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.Model != "echo" {
		t.Errorf("model = %q, want echo from assistant", run.Model)
	}
	if run.Instructions != instructions {
		t.Errorf("instructions = %q, want assistant's", run.Instructions)
	}
	if status := run.Status(time.Now().UTC()); status != model.RunStatusQueued {
		t.Errorf("status = %q, want queued", status)
	}
	if run.ExpiresAt.IsZero() {
		t.Error("expires_at not set")
	}
}

func TestCreateRunRequiresModel(t *testing.T) {
	svc, _, threadID := testRuns(t)

	_, err := svc.Create(context.Background(), CreateRunRequest{ThreadID: threadID})
	if !apierror.IsInvalidArgument(err) {
		t.Errorf("got %v, want InvalidArgument", err)
	}
}

func TestOneActiveRunPerThread(t *testing.T) {
	svc, _, threadID := testRuns(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateRunRequest{ThreadID: threadID, Model: "echo"})
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	_, err = svc.Create(ctx, CreateRunRequest{ThreadID: threadID, Model: "echo"})
	if !apierror.IsConflict(err) {
		t.Fatalf("second Create: got %v, want Conflict", err)
	}

	// A terminal run releases the thread.
	if _, err := svc.Modify(ctx, first.ID, ModifyRequest{Status: model.RunStatusCancelled}); err != nil {
		t.Fatalf("Modify cancel failed: %v", err)
	}
	// No dispatcher is wired, so the request stays at cancelling; expiry is
	// what frees the thread in that state. Simulate it passing.
	got, err := svc.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if status := got.Status(time.Now().UTC()); status != model.RunStatusCancelling {
		t.Errorf("status after cancel request = %q, want cancelling", status)
	}
}

func TestModifyValidation(t *testing.T) {
	svc, _, threadID := testRuns(t)
	ctx := context.Background()

	run, err := svc.Create(ctx, CreateRunRequest{ThreadID: threadID, Model: "echo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Modify(ctx, run.ID, ModifyRequest{Status: model.RunStatusCompleted})
	if !apierror.IsInvalidArgument(err) {
		t.Errorf("status=completed: got %v, want InvalidArgument", err)
	}

	_, err = svc.Modify(ctx, run.ID, ModifyRequest{Status: model.RunStatusCancelled, Extra: []string{"model"}})
	if !apierror.IsInvalidArgument(err) {
		t.Errorf("extra fields: got %v, want InvalidArgument", err)
	}

	_, err = svc.Modify(ctx, "run_missing", ModifyRequest{Status: model.RunStatusCancelled})
	if !apierror.IsNotFound(err) {
		t.Errorf("unknown run: got %v, want NotFound", err)
	}
}

func TestListRunsFiltersByThread(t *testing.T) {
	svc, s, threadID := testRuns(t)
	ctx := context.Background()

	other := &model.Thread{}
	if err := s.Threads().Create(ctx, other); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := svc.Create(ctx, CreateRunRequest{ThreadID: threadID, Model: "echo"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Create(ctx, CreateRunRequest{ThreadID: other.ID, Model: "echo"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	page, err := svc.List(ctx, threadID, pagination.Params{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Data) != 1 {
		t.Fatalf("got %d runs, want 1", len(page.Data))
	}
	if page.Data[0].ThreadID != threadID {
		t.Errorf("run thread = %s, want %s", page.Data[0].ThreadID, threadID)
	}
}
