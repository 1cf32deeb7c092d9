package model

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers models that do not expose exactly one static
	// input and runtime orders without an available backend.
	KindConfiguration
	// KindIO covers model and input files that cannot be opened or read.
	KindIO
	// KindExecution covers failures during the forward pass.
	KindExecution
	// KindInput covers decoded inputs that do not fit the input tensor.
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIO:
		return "io"
	case KindExecution:
		return "execution"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Error is returned by every Engine operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
