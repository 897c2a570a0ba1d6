package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the wire vocabulary of failures.
type ErrorKind string

const (
	KindProcedureNotFound     ErrorKind = "ProcedureNotFound"
	KindSystemMethodForbidden ErrorKind = "SystemMethodForbidden"
	KindMalformedRequest      ErrorKind = "MalformedRequest"
	KindTypeCoercion          ErrorKind = "TypeCoercionError"
	KindInternalInvocation    ErrorKind = "InternalInvocationError"
	KindCallTimeout           ErrorKind = "CallTimeout"
	KindRateLimited           ErrorKind = "RateLimited"
)

// Error is a failure that can cross the wire.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

// Errorf returns an Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind whose message ends with the cause and
// whose detail carries the cause's stack trace when it has one.
func Wrap(kind ErrorKind, cause error, msg string) *Error {
	if cause == nil {
		return &Error{Kind: kind, Message: msg}
	}
	return &Error{
		Kind:    kind,
		Message: msg + ": " + cause.Error(),
		Detail:  fmt.Sprintf("%+v", cause),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
