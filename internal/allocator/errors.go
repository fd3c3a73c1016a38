package allocator

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid piece state transition")
	ErrPieceOutOfRange   = errors.New("piece index out of range")
)

// StateError reports an operation attempted on a piece in the wrong state.
type StateError struct {
	Index int
	Op    string
	State PieceState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s piece %d: piece is %s", e.Op, e.Index, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}
