package message

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is matched by every DecodeError.
var ErrInvalidMessage = errors.New("invalid message")

type DecodeError struct {
	ID     byte
	Length uint32
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid message (id %d, length %d): %s", e.ID, e.Length, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrInvalidMessage
}
