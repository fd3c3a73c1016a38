package peer

// Bitfield is a compact representation of which pieces a peer has.
// Bit 0 of byte 0 (the most significant bit) stands for piece 0.
type Bitfield []byte

// HasPiece reports whether the bit for index is set. Indices outside the
// bitfield are reported as missing.
func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	offset := index % 8
	if index < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-offset)&1 != 0
}

// SetPiece sets the bit for index, growing the bitfield when a peer announces
// a piece through a have message without having sent a bitfield first.
func (bf *Bitfield) SetPiece(index int) {
	if index < 0 {
		return
	}
	byteIndex := index / 8
	offset := index % 8
	if byteIndex >= len(*bf) {
		grown := make(Bitfield, byteIndex+1)
		copy(grown, *bf)
		*bf = grown
	}
	(*bf)[byteIndex] |= 1 << (7 - offset)
}

// Count returns the number of pieces set.
func (bf Bitfield) Count() int {
	n := 0
	for _, b := range bf {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}
