package protocol

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error classes surfaced to callers. Kind is
// comparable so callers can do errors.Is(err, protocol.NewError(kind, ""))
// (see Error.Is), compare KindOf(err), or switch on *Error.Kind for finer
// dispatch (e.g. deciding whether an error is retryable).
type Kind int

const (
	KindUnknown Kind = iota
	KindDuplicateName
	KindUnknownBox
	KindPeerDown
	KindNotRunning
	KindAlreadyRunning
	KindNothingRegistered
	KindTimeout
	KindConnectionClosed
	KindHandlerFailed
	KindSandboxError
)

// names backs Kind.String for logging.
var names = map[Kind]string{
	KindUnknown:           "unknown",
	KindDuplicateName:     "duplicate_name",
	KindUnknownBox:        "unknown_box",
	KindPeerDown:          "peer_down",
	KindNotRunning:        "not_running",
	KindAlreadyRunning:    "already_running",
	KindNothingRegistered: "nothing_registered",
	KindTimeout:           "timeout",
	KindConnectionClosed:  "connection_closed",
	KindHandlerFailed:     "handler_failed",
	KindSandboxError:      "sandbox_error",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the concrete error type returned across package boundaries for
// every error kind the runtime surfaces. It wraps an optional underlying
// cause so callers can still unwrap to the original error (e.g. a
// sandbox failure) while switching on Kind for routing decisions.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("boxlite: %s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("boxlite: %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so plain
// errors.Is(err, protocol.NewError(protocol.KindTimeout, "")) checks work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
