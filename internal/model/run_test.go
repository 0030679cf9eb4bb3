package model

import (
	"testing"
	"time"
)

func TestRunStatusPrecedence(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	// Every valid combination of the optional timestamps (at most one
	// terminal) crossed with expiry, checked against the precedence order.
	tests := []struct {
		name string
		run  Run
		want string
	}{
		{"fresh", Run{ExpiresAt: future}, RunStatusQueued},
		{"started", Run{StartedAt: &past, ExpiresAt: future}, RunStatusInProgress},
		{"cancel requested", Run{StartedAt: &past, TriedCancelingAt: &past, ExpiresAt: future}, RunStatusCancelling},
		{"cancel requested before start", Run{TriedCancelingAt: &past, ExpiresAt: future}, RunStatusCancelling},
		{"completed", Run{StartedAt: &past, CompletedAt: &past, ExpiresAt: future}, RunStatusCompleted},
		{"failed", Run{StartedAt: &past, FailedAt: &past, ExpiresAt: future}, RunStatusFailed},
		{"failed without start", Run{FailedAt: &past, ExpiresAt: future}, RunStatusFailed},
		{"cancelled", Run{StartedAt: &past, TriedCancelingAt: &past, CancelledAt: &past, ExpiresAt: future}, RunStatusCancelled},
		{"expired queued", Run{ExpiresAt: past}, RunStatusExpired},
		{"expired in progress", Run{StartedAt: &past, ExpiresAt: past}, RunStatusExpired},
		{"expired while cancelling", Run{StartedAt: &past, TriedCancelingAt: &past, ExpiresAt: past}, RunStatusExpired},
		// Terminal timestamps always beat expiry.
		{"completed past expiry", Run{StartedAt: &past, CompletedAt: &past, ExpiresAt: past}, RunStatusCompleted},
		{"failed past expiry", Run{StartedAt: &past, FailedAt: &past, ExpiresAt: past}, RunStatusFailed},
		{"cancelled past expiry", Run{StartedAt: &past, TriedCancelingAt: &past, CancelledAt: &past, ExpiresAt: past}, RunStatusCancelled},
	}

	for _, tt := range tests {
		if got := tt.run.Status(now); got != tt.want {
			t.Errorf("%s: Status() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRunTransitions(t *testing.T) {
	now := time.Now()

	r := &Run{ID: "run_x", ExpiresAt: now.Add(time.Hour)}
	if err := r.Complete(now); err == nil {
		t.Error("Complete before Start should fail")
	}
	if err := r.Start(now); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(now); err == nil {
		t.Error("second Start should fail")
	}
	if err := r.Complete(now); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Terminal runs reject every further transition.
	if err := r.Fail(now, RunError{Code: "x", Message: "y"}); err == nil {
		t.Error("Fail after Complete should fail")
	}
	if err := r.RequestCancel(now); err == nil {
		t.Error("RequestCancel after Complete should fail")
	}
	if r.FailedAt != nil || r.CancelledAt != nil {
		t.Error("rejected transitions must not set timestamps")
	}
}

func TestRunConfirmCancelRequiresRequest(t *testing.T) {
	now := time.Now()

	r := &Run{ID: "run_y", ExpiresAt: now.Add(time.Hour)}
	if err := r.ConfirmCancel(now); err == nil {
		t.Error("ConfirmCancel without RequestCancel should fail")
	}
	if err := r.RequestCancel(now); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	// Requesting again is a no-op, not an error.
	first := *r.TriedCancelingAt
	if err := r.RequestCancel(now.Add(time.Second)); err != nil {
		t.Fatalf("second RequestCancel failed: %v", err)
	}
	if !r.TriedCancelingAt.Equal(first) {
		t.Error("second RequestCancel must not move tried_cancelling_at")
	}
	if err := r.ConfirmCancel(now); err != nil {
		t.Fatalf("ConfirmCancel failed: %v", err)
	}
	if got := r.Status(now); got != RunStatusCancelled {
		t.Errorf("Status() = %q, want cancelled", got)
	}
}
