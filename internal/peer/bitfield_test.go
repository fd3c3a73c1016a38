package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitfieldHasPiece(t *testing.T) {
	// pieces 0, 7, 8 and 9 set; piece 15 is the last valid index
	bf := Bitfield{0b10000001, 0b11000001}

	tests := []struct {
		index int
		want  bool
	}{
		{0, true},
		{1, false},
		{6, false},
		{7, true},
		{8, true},
		{9, true},
		{10, false},
		{15, true},
		{16, false},
		{-1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bf.HasPiece(tt.index), "index %d", tt.index)
	}
}

func TestBitfieldSetPiece(t *testing.T) {
	bf := Bitfield{0, 0}
	bf.SetPiece(4)
	bf.SetPiece(8)
	assert.Equal(t, Bitfield{0b00001000, 0b10000000}, bf)
	assert.True(t, bf.HasPiece(4))
	assert.True(t, bf.HasPiece(8))
	assert.False(t, bf.HasPiece(9))
}

func TestBitfieldSetPieceGrows(t *testing.T) {
	var bf Bitfield
	bf.SetPiece(17)
	assert.Len(t, bf, 3)
	assert.True(t, bf.HasPiece(17))
	assert.Equal(t, 1, bf.Count())
}

func TestBitfieldCount(t *testing.T) {
	assert.Equal(t, 5, Bitfield{0b10000001, 0b11000001}.Count())
	assert.Zero(t, Bitfield(nil).Count())
}
