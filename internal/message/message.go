// Package message implements the length-prefixed framing used on a peer
// connection once the handshake is done.
package message

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies the type of a peer message.
type ID uint8

// Message IDs
const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Port          ID = 9
)

// MaxLength bounds the length prefix of a single frame. It fits a 16KB block
// plus header and the bitfield of a torrent with over a million pieces.
const MaxLength = 1 << 17

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a single peer message. A nil *Message stands for a keep-alive.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize encodes the message as <length prefix><message ID><payload>.
// A nil message encodes as a keep-alive (four zero bytes).
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

func (m *Message) String() string {
	if m == nil {
		return "keep-alive"
	}
	return fmt.Sprintf("%s [%d]", m.ID, len(m.Payload))
}

// Decode builds a message from an already split frame. length is the value of
// the length prefix and must cover the ID byte plus payload.
func Decode(length uint32, id byte, payload []byte) (*Message, error) {
	if id > byte(Port) {
		return nil, &DecodeError{ID: id, Length: length, Reason: "unknown message id"}
	}
	if length != uint32(len(payload))+1 {
		return nil, &DecodeError{
			ID:     id,
			Length: length,
			Reason: fmt.Sprintf("length prefix does not match %d payload bytes", len(payload)),
		}
	}
	return &Message{ID: ID(id), Payload: payload}, nil
}

// Read reads exactly one frame from r. Keep-alives are returned as a nil message.
func Read(r io.Reader) (*Message, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("error reading length of peer message: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBytes[:])
	if length == 0 {
		return nil, nil
	}
	if length > MaxLength {
		return nil, &DecodeError{Length: length, Reason: "frame exceeds maximum length"}
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("error reading %d byte peer message: %w", length, err)
	}
	return Decode(length, buf[0], buf[1:])
}
