package metainfo

import (
	"bytes"
	"fmt"
	"strings"
)

// File is one entry of a multi-file torrent, in the order the pieces cover it.
type File struct {
	Path   []string
	Length int64
}

// Metadata is the immutable view of a torrent shared by every peer session.
type Metadata struct {
	Name        string
	InfoHash    [20]byte
	Length      int64
	PieceLength int64
	PieceHashes [][20]byte
	Files       []File
}

// New validates the torrent geometry and slices the flat pieces blob into
// 20-byte SHA-1 hashes.
func New(infoHash [20]byte, length, pieceLength int64, pieces []byte) (*Metadata, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid torrent length %d", length)
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("invalid piece length %d", pieceLength)
	}
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("pieces blob length %d is not a multiple of 20", len(pieces))
	}

	want := (length + pieceLength - 1) / pieceLength
	if int64(len(pieces)/20) != want {
		return nil, fmt.Errorf("torrent of %d bytes with %d byte pieces needs %d piece hashes, got %d",
			length, pieceLength, want, len(pieces)/20)
	}

	hashes := make([][20]byte, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}

	return &Metadata{
		InfoHash:    infoHash,
		Length:      length,
		PieceLength: pieceLength,
		PieceHashes: hashes,
	}, nil
}

// NumPieces returns ceil(Length / PieceLength).
func (m *Metadata) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceSize returns the logical length of piece index. Only the last piece
// may be shorter than PieceLength.
func (m *Metadata) PieceSize(index int) int64 {
	if index < 0 || index >= m.NumPieces() {
		return 0
	}
	if index == m.NumPieces()-1 {
		return m.Length - m.PieceLength*int64(index)
	}
	return m.PieceLength
}

// VerifyPiece reports whether the SHA-1 of data matches the hash for index.
func (m *Metadata) VerifyPiece(index int, data []byte) bool {
	if index < 0 || index >= m.NumPieces() {
		return false
	}
	return bytes.Equal(HashPiece(data), m.PieceHashes[index][:])
}

// IsSingleFile reports whether the torrent describes a single file.
func (m *Metadata) IsSingleFile() bool {
	return len(m.Files) == 0
}

func (m *Metadata) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nLength: %d\nInfo Hash: %x\nPiece Length: %d\nPieces: %d\n",
		m.Name, m.Length, m.InfoHash, m.PieceLength, m.NumPieces())
	for i, f := range m.Files {
		fmt.Fprintf(&b, "  File %d: %s (%d bytes)\n", i+1, strings.Join(f.Path, "/"), f.Length)
	}
	b.WriteString("Piece Hashes:")
	for _, h := range m.PieceHashes {
		fmt.Fprintf(&b, "\n%x", h)
	}
	return b.String()
}
