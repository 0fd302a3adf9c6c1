package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMalformedDocument  = errors.New("malformed document")
	ErrEncodingFailure    = errors.New("encoding failure")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrNotFound           = errors.New("not found")
)

// Kind classifies a per-article failure for reporting.
type Kind string

const (
	KindMalformedDocument  Kind = "MalformedDocument"
	KindEncodingFailure    Kind = "EncodingFailure"
	KindPersistenceFailure Kind = "PersistenceFailure"
	KindNotFound           Kind = "NotFound"
	KindCancelled          Kind = "Cancelled"
	KindUnknown            Kind = "Unknown"
)

// MalformedDocumentError is returned by the parser when a record cannot be
// turned into an Article. Field names the offending element.
type MalformedDocumentError struct {
	Field  string
	Detail string
}

func (e *MalformedDocumentError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("malformed document: invalid %s", e.Field)
	}
	return fmt.Sprintf("malformed document: invalid %s: %s", e.Field, e.Detail)
}

func (e *MalformedDocumentError) Unwrap() error { return ErrMalformedDocument }

// EncodingError wraps a failure of the embedding backend. Retryable is set
// when the backend was unreachable or overloaded rather than rejecting input.
type EncodingError struct {
	Retryable bool
	Err       error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding failure: %v", e.Err)
}

func (e *EncodingError) Unwrap() []error { return []error{ErrEncodingFailure, e.Err} }

// PersistenceError wraps a failure of the graph database.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistenceFailure, e.Err} }

// NotFoundError is returned by article sources for unknown ids.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("article %s not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewPersistenceError wraps err unless it is nil or already a persistence
// failure.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceFailure) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// KindOf maps an error onto the failure taxonomy. Domain errors win over the
// context errors they wrap.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedDocument):
		return KindMalformedDocument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEncodingFailure):
		return KindEncodingFailure
	case errors.Is(err, ErrPersistenceFailure):
		return KindPersistenceFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether a failure may succeed when attempted again.
// Malformed input, unknown ids and cancellation never are.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindPersistenceFailure:
		return true
	case KindEncodingFailure:
		var ee *EncodingError
		if errors.As(err, &ee) {
			return ee.Retryable
		}
		return false
	case KindUnknown:
		return true
	default:
		return false
	}
}
