package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrPersist marks a mutation whose in-memory change was applied but
	// could not be written to the backend.
	ErrPersist = errors.New("persist job records")
	// ErrInvalidCandidate is returned by AddJob when company or job title is empty.
	ErrInvalidCandidate = errors.New("invalid job candidate")
)

// Error adds the failing operation and record index to a store error.
type Error struct {
	Op    string
	Index int
	Err   error
}

func (e *Error) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s job #%d: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func persistError(op string, index int, cause error) error {
	return &Error{
		Op:    op,
		Index: index,
		Err:   fmt.Errorf("%w: %w", ErrPersist, cause),
	}
}
