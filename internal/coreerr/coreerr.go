// Package coreerr defines the error kinds from spec §7, each checkable
// with errors.Is/errors.As so callers can branch on failure class
// instead of parsing messages.
package coreerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the five error classes the core distinguishes.
type Kind string

const (
	// KindTransport is an HTTP/socket failure. Retried once by callers
	// driving a scheduled task (heartbeat, assignment push); otherwise
	// surfaced to the caller.
	KindTransport Kind = "transport"
	// KindStale is an epoch-older control message. Dropped silently by
	// the recipient; the sender is expected to refresh its state.
	KindStale Kind = "stale"
	// KindNoWorkerForShard means a cache route target is missing.
	KindNoWorkerForShard Kind = "no_worker_for_shard"
	// KindInvalidState is an inconsistent succession or a duplicate
	// process_id.
	KindInvalidState Kind = "invalid_state"
	// KindFatal is an invariant violation: assignment not a partition,
	// negative epoch. Callers terminate the process with exit 3.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and optional HTTP status.
type Error struct {
	Kind   Kind
	Status int // HTTP status, when Kind == KindTransport and one was observed
	Cause  error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Kind, e.Status, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, coreerr.Transport) match any *Error of that
// Kind regardless of status or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == nil
}

// Sentinel values for errors.Is comparisons, e.g. errors.Is(err, coreerr.Transport).
var (
	Transport        = &Error{Kind: KindTransport}
	Stale            = &Error{Kind: KindStale}
	NoWorkerForShard = &Error{Kind: KindNoWorkerForShard}
	InvalidState     = &Error{Kind: KindInvalidState}
	Fatal            = &Error{Kind: KindFatal}
)

// NewTransport wraps cause (and, if known, the HTTP status) as a
// KindTransport error.
func NewTransport(status int, cause error) *Error {
	return &Error{Kind: KindTransport, Status: status, Cause: cause}
}

// NewStale wraps cause as a KindStale error.
func NewStale(cause error) *Error { return &Error{Kind: KindStale, Cause: cause} }

// NewNoWorkerForShard wraps cause as a KindNoWorkerForShard error.
func NewNoWorkerForShard(cause error) *Error {
	return &Error{Kind: KindNoWorkerForShard, Cause: cause}
}

// NewInvalidState wraps cause as a KindInvalidState error.
func NewInvalidState(cause error) *Error {
	return &Error{Kind: KindInvalidState, Cause: cause}
}

// NewFatal wraps cause as a KindFatal error.
func NewFatal(cause error) *Error { return &Error{Kind: KindFatal, Cause: cause} }

// HTTPStatus maps a Kind to the status code an HTTP handler should
// return for it, used by the coordinator/worker control-plane handlers.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindStale:
		return http.StatusConflict
	case KindNoWorkerForShard:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusBadRequest
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
