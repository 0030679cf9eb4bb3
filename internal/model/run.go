package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
)

// Run status values, derived from timestamps and never stored.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCancelling = "cancelling"
	RunStatusCancelled  = "cancelled"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusExpired    = "expired"
)

// RunError is the last error recorded on a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one execution of an agent against a thread. Its status is a pure
// function of the timestamp fields; at most one terminal timestamp is ever
// set.
type Run struct {
	ID               string     `gorm:"primaryKey;type:text" json:"id"`
	ThreadID         string     `gorm:"column:thread_id;not null;type:text;index" json:"thread_id"`
	AssistantID      *string    `gorm:"column:assistant_id;type:text" json:"assistant_id,omitempty"`
	WorkflowID       *string    `gorm:"column:workflow_id;type:text" json:"workflow_id,omitempty"`
	Model            string     `gorm:"not null;type:text" json:"model"`
	Instructions     string     `gorm:"type:text" json:"instructions,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt        *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailedAt         *time.Time `gorm:"column:failed_at" json:"failed_at,omitempty"`
	CancelledAt      *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	TriedCancelingAt *time.Time `gorm:"column:tried_cancelling_at" json:"tried_cancelling_at,omitempty"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	LastError        *RunError  `gorm:"column:last_error;type:text;serializer:json" json:"last_error,omitempty"`
}

func (Run) TableName() string { return "runs" }

func (r *Run) GetID() string   { return r.ID }
func (r *Run) SetID(id string) { r.ID = id }
func (Run) IDPrefix() string   { return ident.PrefixRun }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ident.New(ident.PrefixRun)
	}
	return nil
}

// Status derives the run status at time now. Precedence is fixed:
// cancelled > failed > completed > expired > cancelling > in_progress >
// queued. Expiry is purely read-time; no timestamp backs it.
func (r *Run) Status(now time.Time) string {
	switch {
	case r.CancelledAt != nil:
		return RunStatusCancelled
	case r.FailedAt != nil:
		return RunStatusFailed
	case r.CompletedAt != nil:
		return RunStatusCompleted
	case now.After(r.ExpiresAt):
		return RunStatusExpired
	case r.TriedCancelingAt != nil:
		return RunStatusCancelling
	case r.StartedAt != nil:
		return RunStatusInProgress
	default:
		return RunStatusQueued
	}
}

// Terminal reports whether a terminal timestamp has been recorded. Note that
// an expired run is terminal to readers but not Terminal here: expiry writes
// nothing.
func (r *Run) Terminal() bool {
	return r.CancelledAt != nil || r.FailedAt != nil || r.CompletedAt != nil
}

// Active reports whether the run still owns its thread: not terminal and not
// past expiry.
func (r *Run) Active(now time.Time) bool {
	return !r.Terminal() && !now.After(r.ExpiresAt)
}

// Start records the transition to in_progress.
func (r *Run) Start(now time.Time) error {
	if r.Terminal() {
		return apierror.InvalidState("cannot start run %s in status %s", r.ID, r.Status(now))
	}
	if r.StartedAt != nil {
		return apierror.InvalidState("run %s already started", r.ID)
	}
	r.StartedAt = &now
	return nil
}

// Complete records the terminal completed timestamp. Valid only from
// in_progress.
func (r *Run) Complete(now time.Time) error {
	if r.Terminal() {
		return apierror.InvalidState("cannot complete run %s in status %s", r.ID, r.Status(now))
	}
	if r.StartedAt == nil {
		return apierror.InvalidState("cannot complete run %s before it started", r.ID)
	}
	r.CompletedAt = &now
	return nil
}

// Fail records the terminal failed timestamp and the last error. Valid from
// queued or in_progress.
func (r *Run) Fail(now time.Time, runErr RunError) error {
	if r.Terminal() {
		return apierror.InvalidState("cannot fail run %s in status %s", r.ID, r.Status(now))
	}
	r.FailedAt = &now
	r.LastError = &runErr
	return nil
}

// RequestCancel records the cancellation request. Valid unless already
// terminal; requesting twice is a no-op.
func (r *Run) RequestCancel(now time.Time) error {
	if r.Terminal() {
		return apierror.InvalidState("cannot cancel run %s in status %s", r.ID, r.Status(now))
	}
	if r.TriedCancelingAt == nil {
		r.TriedCancelingAt = &now
	}
	return nil
}

// ConfirmCancel records the terminal cancelled timestamp. Valid only after
// RequestCancel.
func (r *Run) ConfirmCancel(now time.Time) error {
	if r.Terminal() {
		return apierror.InvalidState("cannot confirm cancel of run %s in status %s", r.ID, r.Status(now))
	}
	if r.TriedCancelingAt == nil {
		return apierror.InvalidState("run %s has no pending cancellation request", r.ID)
	}
	r.CancelledAt = &now
	return nil
}
