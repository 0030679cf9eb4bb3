package model

import (
	"encoding/json"
	"time"
)

// Event types emitted on a run's stream.
const (
	EventMessageDelta = "thread.message.delta"
	EventMessage      = "thread.message"
	EventRun          = "thread.run"
	EventRunStep      = "thread.run.step"
	EventRunStepDelta = "thread.run.step.delta"
	EventError        = "error"
	EventDone         = "done"
)

// TerminalEvent reports whether an event type closes a run's log. After a
// terminal event no further appends are accepted for that run.
func TerminalEvent(eventType string) bool {
	return eventType == EventDone || eventType == EventError
}

// Event is one entry in a run's append-only log. ID is a global ordinal used
// by the live poller; SequenceNum is the per-run position starting at 1.
type Event struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID       string          `gorm:"column:run_id;not null;type:text;uniqueIndex:idx_run_seq,priority:1" json:"run_id"`
	ThreadID    string          `gorm:"column:thread_id;not null;type:text;index" json:"thread_id"`
	SequenceNum int64           `gorm:"column:sequence_num;not null;uniqueIndex:idx_run_seq,priority:2" json:"sequence_num"`
	EventType   string          `gorm:"column:event_type;not null;type:text" json:"event"`
	EventData   json.RawMessage `gorm:"column:event_data;type:text;not null" json:"data"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Event) TableName() string { return "events" }

// MessageDeltaData is the payload of thread.message.delta. Index positions
// the fragment within the message's block list so interleaved deltas
// reassemble correctly.
type MessageDeltaData struct {
	MessageID string `json:"message_id"`
	Index     int    `json:"index"`
	Block     Block  `json:"block"`
}

// MessageData is the payload of thread.message: the full message as emitted.
type MessageData struct {
	Message *Message `json:"message"`
}

// RunData is the payload of thread.run lifecycle events.
type RunData struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunStepData is the payload of thread.run.step: a tool-call or tool-result
// sub-step of a run.
type RunStepData struct {
	StepID    string          `json:"step_id"`
	StepType  string          `json:"step_type"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// RunStepDeltaData is the payload of thread.run.step.delta: partial argument
// or output streaming for a step, positioned by Index.
type RunStepDeltaData struct {
	StepID   string `json:"step_id"`
	Index    int    `json:"index"`
	Fragment string `json:"fragment"`
}

// ErrorData is the payload of the terminal error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
