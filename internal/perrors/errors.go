// Package perrors defines the small error taxonomy shared across probkit's
// sketches, pipeline, and CLI. It mirrors the C++ reference's errc enum, but
// as a plain Go error type returned the idiomatic way — every constructor and
// merge operation returns (value, error) rather than a custom result wrapper.
package perrors

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong, independent of the human-readable context.
type Kind uint8

const (
	InvalidArgument Kind = iota + 1
	ParseError
	IOError
	OutOfMemory
	Timeout
	Canceled
	Overflow
	InternalError
	NotSupported
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case ParseError:
		return "parse_error"
	case IOError:
		return "io_error"
	case OutOfMemory:
		return "out_of_memory"
	case Timeout:
		return "timeout"
	case Canceled:
		return "canceled"
	case Overflow:
		return "overflow"
	case InternalError:
		return "internal_error"
	case NotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Error is the concrete error value carried by a Kind and a context message.
type Error struct {
	kind    Kind
	context string
}

func (e *Error) Error() string {
	if e.context == "" {
		return e.kind.String()
	}
	return fmt.Sprintf("%s: %s", e.kind.String(), e.context)
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New builds an *Error for the given kind and context. context may be empty.
func New(kind Kind, context string) error {
	return &Error{kind: kind, context: context}
}

// Newf is New with fmt.Sprintf-style formatting of the context.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, context: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to InternalError otherwise.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.kind
	}
	return InternalError
}
