// Package apperr implements the error taxonomy of spec.md §7. Every
// component surfaces errors as a *Error carrying a Category that the
// Gateway translates to an HTTP status and a system.error event,
// generalizing the teacher's cmd/bureau/cli ErrorCategory/ToolError
// pattern from a CLI-facing four-category scheme to the full set of
// caller, upstream, SSH, and internal categories this system needs.
package apperr

import (
	"errors"
	"fmt"
)

// Category classifies an error for programmatic handling by the
// Gateway and by the Session Runtime's state-transition logic.
type Category string

const (
	// Caller errors (4xx).
	BadRequest     Category = "bad_request"
	NotFound       Category = "not_found"
	Conflict       Category = "conflict"
	IncompatibleOS Category = "incompatible_os"
	Busy           Category = "busy"
	Locked         Category = "locked"
	AuthRequired   Category = "auth_required"
	Forbidden      Category = "forbidden"

	// Upstream errors.
	AIUnavailable    Category = "ai_unavailable"
	AIRateLimited    Category = "ai_rate_limited"
	VaultUnavailable Category = "vault_unavailable"

	// SSH errors.
	Unreachable     Category = "unreachable"
	AuthFailed      Category = "auth_failed"
	HostKeyMismatch Category = "host_key_mismatch"
	ChannelClosed   Category = "channel_closed"
	ExecTimeout     Category = "exec_timeout"

	// Internal errors.
	DBError   Category = "db_error"
	Invariant Category = "invariant"
	Shutdown  Category = "shutdown"
)

// retryable reports whether a Category is inherently retryable per
// spec.md §7 ("Upstream errors: AIUnavailable (retryable),
// AIRateLimited (retryable with hint)").
var retryable = map[Category]bool{
	AIUnavailable: true,
	AIRateLimited: true,
}

// Error is a categorized error. Use the constructor functions
// (New, NotFoundf, Conflictf, ...) rather than building one directly.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this error's category is retryable by
// default (callers may still override per-call, e.g. AI Pipeline
// backoff gated on whether any stream chunk has already been emitted).
func (e *Error) Retryable() bool { return retryable[e.Category] }

// New constructs an *Error in the given category.
func New(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

// As reports whether err (or any error it wraps) is an *Error, and if
// so returns it and true.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the Category of err if it is (or wraps) an
// *Error, else Invariant — treating un-categorized errors as bugs
// forces every component to classify its own failures explicitly.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return Invariant
}

func BadRequestf(format string, args ...any) *Error     { return New(BadRequest, format, args...) }
func NotFoundf(format string, args ...any) *Error       { return New(NotFound, format, args...) }
func Conflictf(format string, args ...any) *Error       { return New(Conflict, format, args...) }
func Busyf(format string, args ...any) *Error           { return New(Busy, format, args...) }
func Lockedf(format string, args ...any) *Error         { return New(Locked, format, args...) }
func ForbiddenF(format string, args ...any) *Error      { return New(Forbidden, format, args...) }
func AuthRequiredf(format string, args ...any) *Error   { return New(AuthRequired, format, args...) }
func IncompatibleOSf(format string, args ...any) *Error { return New(IncompatibleOS, format, args...) }
func Internalf(format string, args ...any) *Error       { return New(Invariant, format, args...) }
