package peer

import (
	"errors"
	"fmt"
)

// ErrInfoHashMismatch is returned when a peer answers the handshake for a
// different torrent than the one we asked for.
var ErrInfoHashMismatch = errors.New("handshake info hash does not match torrent info hash")

type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return "handshake failed: " + e.Reason
	}
	return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
