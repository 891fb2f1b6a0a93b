package store

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates a status move the lifecycle does not permit.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError captures the rejected move for diagnostics.
type TransitionError struct {
	DocumentID int64
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %d: invalid status transition %s -> %s", e.DocumentID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
