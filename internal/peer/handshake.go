package peer

import (
	"fmt"
	"io"

	"github.com/leorafaelmb/bittorrent-client/internal"
)

// Handshake represents the first message exchanged between peers.
type Handshake struct {
	Pstr     string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake creates a handshake for the given torrent and local peer id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     internal.ProtocolString,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize creates the handshake message bytes.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	buf[0] = byte(len(h.Pstr))
	curr := 1
	curr += copy(buf[curr:], h.Pstr)
	curr += copy(buf[curr:], h.Reserved[:])
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// ReadHandshake reads and parses exactly one handshake from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, internal.HandshakeLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, &HandshakeError{Reason: "error reading handshake response", Err: err}
	}

	pstrLen := int(buf[0])
	if pstrLen != internal.ProtocolStringLength {
		return nil, &HandshakeError{Reason: fmt.Sprintf("invalid protocol string length %d", pstrLen)}
	}
	pstr := string(buf[1 : 1+pstrLen])
	if pstr != internal.ProtocolString {
		return nil, &HandshakeError{Reason: fmt.Sprintf("unsupported protocol %q", pstr)}
	}

	h := &Handshake{Pstr: pstr}
	curr := 1 + pstrLen
	curr += copy(h.Reserved[:], buf[curr:curr+8])
	curr += copy(h.InfoHash[:], buf[curr:curr+20])
	copy(h.PeerID[:], buf[curr:curr+20])
	return h, nil
}
