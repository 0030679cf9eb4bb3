// Package apierror defines the error taxonomy shared by the repository,
// service and HTTP layers. Errors carry a Kind so handlers can map them to
// status codes without string matching.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and retry decisions.
type Kind int

const (
	// KindNotFound indicates the entity or id is absent or soft-deleted.
	KindNotFound Kind = iota + 1
	// KindConflict indicates a duplicate create or a closed event log.
	KindConflict
	// KindInvalidArgument indicates a malformed request: both cursors set,
	// out-of-range limit, disallowed field mutation.
	KindInvalidArgument
	// KindInvalidState indicates a state-machine transition not permitted
	// from the current state, or a broken migration chain.
	KindInvalidState
	// KindLimitReached indicates a configured resource cap was exceeded.
	KindLimitReached
	// KindUpstream wraps a failure surfaced by an external agent provider.
	KindUpstream
	// KindStorage wraps an I/O failure against the backing store.
	KindStorage
)

// String returns the snake_case name used in error event payloads.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindLimitReached:
		return "limit_reached"
	case KindUpstream:
		return "upstream_error"
	case KindStorage:
		return "storage_error"
	default:
		return "internal_error"
	}
}

// Error is the concrete error type for all taxonomy kinds.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports an absent entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate create or an append to a closed log.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a malformed request.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a disallowed state-machine transition.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// LimitReached reports an exceeded resource cap.
func LimitReached(format string, args ...any) *Error {
	return &Error{Kind: KindLimitReached, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps an external provider failure.
func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// Storage wraps a backing-store I/O failure.
func Storage(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or 0 if err is not a taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsInvalidArgument reports whether err is an InvalidArgument error.
func IsInvalidArgument(err error) bool { return KindOf(err) == KindInvalidArgument }

// IsInvalidState reports whether err is an InvalidState error.
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }

// HTTPStatus maps an error to the status code written to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindLimitReached, KindInvalidArgument, KindInvalidState:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the client-visible message for err. Wrapped causes of
// storage and internal errors are not exposed.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindStorage:
			return "storage error"
		default:
			return e.Message
		}
	}
	return "internal server error"
}
