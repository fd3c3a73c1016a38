package message

import (
	"encoding/binary"
	"fmt"
)

// FormatRequest builds a request for length bytes at offset begin of piece index.
func FormatRequest(index, begin, length uint32) *Message {
	return &Message{ID: Request, Payload: blockSpec(index, begin, length)}
}

// FormatCancel builds a cancel for a previously sent request.
func FormatCancel(index, begin, length uint32) *Message {
	return &Message{ID: Cancel, Payload: blockSpec(index, begin, length)}
}

func blockSpec(index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return payload
}

// FormatHave builds a have message announcing piece index.
func FormatHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: Have, Payload: payload}
}

// FormatPiece builds a piece message carrying block at offset begin of piece index.
func FormatPiece(index, begin uint32, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return &Message{ID: Piece, Payload: payload}
}

// ParseRequest extracts index, begin and length from a request or cancel message.
func ParseRequest(msg *Message) (index, begin, length uint32, err error) {
	if msg == nil || (msg.ID != Request && msg.ID != Cancel) {
		return 0, 0, 0, fmt.Errorf("expected request or cancel, got %s", msg)
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, &DecodeError{
			ID:     byte(msg.ID),
			Length: uint32(len(msg.Payload) + 1),
			Reason: "request payload must be 12 bytes",
		}
	}
	index = binary.BigEndian.Uint32(msg.Payload[0:4])
	begin = binary.BigEndian.Uint32(msg.Payload[4:8])
	length = binary.BigEndian.Uint32(msg.Payload[8:12])
	return index, begin, length, nil
}

// ParsePiece extracts index, begin and the block bytes from a piece message.
// The returned block aliases the message payload.
func ParsePiece(msg *Message) (index, begin uint32, block []byte, err error) {
	if msg == nil || msg.ID != Piece {
		return 0, 0, nil, fmt.Errorf("expected piece, got %s", msg)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, &DecodeError{
			ID:     byte(msg.ID),
			Length: uint32(len(msg.Payload) + 1),
			Reason: "piece payload too short",
		}
	}
	index = binary.BigEndian.Uint32(msg.Payload[0:4])
	begin = binary.BigEndian.Uint32(msg.Payload[4:8])
	return index, begin, msg.Payload[8:], nil
}

// ParseHave extracts the piece index from a have message.
func ParseHave(msg *Message) (uint32, error) {
	if msg == nil || msg.ID != Have {
		return 0, fmt.Errorf("expected have, got %s", msg)
	}
	if len(msg.Payload) != 4 {
		return 0, &DecodeError{
			ID:     byte(msg.ID),
			Length: uint32(len(msg.Payload) + 1),
			Reason: "have payload must be 4 bytes",
		}
	}
	return binary.BigEndian.Uint32(msg.Payload), nil
}
