package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// StoreError wraps a backing-store failure with the operation and key it
// interrupted. Absence of a key is never a StoreError.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Classify maps an error chain to the short status code reported by
// instrumentation. nil classifies as "ok".
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var se *StoreError
	if errors.As(err, &se) {
		return "store"
	}
	return "error"
}
