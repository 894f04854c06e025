// Package broker defines the error vocabulary and the Store contract shared
// by every component that moves a task through its lifecycle.
package broker

import "errors"

// Sentinel errors returned by Store implementations. The HTTP surface maps
// each of these to a specific status code; callers should use errors.Is
// against these values rather than inspecting implementation-specific error
// types.
var (
	// ErrNotFound means no row exists with the given task id, or (on
	// download) the row exists but has not reached completed.
	ErrNotFound = errors.New("broker: task not found")

	// ErrNoWork means there was no pending row to claim.
	ErrNoWork = errors.New("broker: no pending work")

	// ErrContended means an optimistic claim lost a race to another
	// caller; the caller should retry with a small backoff.
	ErrContended = errors.New("broker: claim contended, retry")

	// ErrBadState means the requested transition is not valid from the
	// task's current status (e.g. completing a task that is not
	// processing).
	ErrBadState = errors.New("broker: task not in required state")

	// ErrBadRequest means the caller supplied a malformed request.
	ErrBadRequest = errors.New("broker: bad request")

	// ErrInternal wraps unexpected store or I/O failures.
	ErrInternal = errors.New("broker: internal error")
)
