package downloader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leorafaelmb/bittorrent-client/internal"
	"github.com/leorafaelmb/bittorrent-client/internal/message"
	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
)

// pieceLayout splits a piece into whole BlockSize blocks plus a trailing
// partial block.
type pieceLayout struct {
	length  int
	whole   int
	partial int
}

func layoutFor(meta *metainfo.Metadata, index int) pieceLayout {
	length := int(meta.PieceSize(index))
	return pieceLayout{
		length:  length,
		whole:   length / internal.BlockSize,
		partial: length % internal.BlockSize,
	}
}

func (l pieceLayout) numBlocks() int {
	if l.partial > 0 {
		return l.whole + 1
	}
	return l.whole
}

// pieceBuffer reassembles a piece from blocks keyed by their begin offset.
type pieceBuffer struct {
	index     int
	data      []byte
	requested []bool
	received  []bool
}

func newPieceBuffer(index int, l pieceLayout) *pieceBuffer {
	return &pieceBuffer{
		index:     index,
		data:      make([]byte, l.length),
		requested: make([]bool, l.numBlocks()),
		received:  make([]bool, l.numBlocks()),
	}
}

func (b *pieceBuffer) blockLength(block int) int {
	return min(internal.BlockSize, len(b.data)-block*internal.BlockSize)
}

// accept stores block if it is an outstanding request for this piece. Blocks
// for other pieces, duplicates and unrequested blocks are dropped.
func (b *pieceBuffer) accept(index, begin int, block []byte) (bool, error) {
	if index != b.index {
		return false, nil
	}
	if begin < 0 || begin >= len(b.data) || begin%internal.BlockSize != 0 {
		return false, fmt.Errorf("%w: offset %d outside piece of %d bytes", ErrBadBlock, begin, len(b.data))
	}
	n := begin / internal.BlockSize
	if want := b.blockLength(n); len(block) != want {
		return false, fmt.Errorf("%w: block at %d has %d bytes, want %d", ErrBadBlock, begin, len(block), want)
	}
	if !b.requested[n] || b.received[n] {
		return false, nil
	}
	copy(b.data[begin:], block)
	b.received[n] = true
	return true, nil
}

func (b *pieceBuffer) complete() bool {
	for _, ok := range b.received {
		if !ok {
			return false
		}
	}
	return true
}

// fetchPiece downloads one piece with a sliding window of block requests and
// verifies it against the torrent's hash.
func (s *Session) fetchPiece(ctx context.Context, index int) ([]byte, error) {
	l := layoutFor(s.meta, index)
	buf := newPieceBuffer(index, l)

	for done := 0; done < l.whole; {
		batch := min(s.config.PipelineDepth, l.whole-done)
		for i := 0; i < batch; i++ {
			if err := s.requestBlock(buf, done+i); err != nil {
				return nil, err
			}
		}
		if err := s.awaitBlocks(ctx, buf, batch); err != nil {
			return nil, err
		}
		done += batch
	}

	if l.partial > 0 {
		if err := s.requestBlock(buf, l.whole); err != nil {
			return nil, err
		}
		if err := s.awaitBlocks(ctx, buf, 1); err != nil {
			return nil, err
		}
	}

	if !buf.complete() {
		return nil, &PieceError{Index: index, Err: fmt.Errorf("%w: piece incomplete", ErrBadBlock)}
	}
	if !s.meta.VerifyPiece(index, buf.data) {
		s.logger.Warn("piece hash mismatch", zap.Int("piece", index))
		return nil, &PieceError{Index: index, Err: ErrHashMismatch}
	}
	s.logger.Info("piece verified", zap.Int("piece", index), zap.Int("bytes", len(buf.data)))
	return buf.data, nil
}

func (s *Session) requestBlock(buf *pieceBuffer, block int) error {
	begin := block * internal.BlockSize
	length := buf.blockLength(block)
	if err := s.peer.SendRequest(uint32(buf.index), uint32(begin), uint32(length)); err != nil {
		return &PieceError{Index: buf.index, Err: err}
	}
	buf.requested[block] = true
	return nil
}

// awaitBlocks reads until n requested blocks have been accepted. Other
// messages go through the regular handler; a Choke ends the piece.
func (s *Session) awaitBlocks(ctx context.Context, buf *pieceBuffer, n int) error {
	for got := 0; got < n; {
		msg, err := s.peer.ReadMessage()
		if err != nil {
			return &PieceError{Index: buf.index, Err: err}
		}
		if msg == nil {
			continue
		}

		switch msg.ID {
		case message.Piece:
			index, begin, block, err := message.ParsePiece(msg)
			if err != nil {
				return &PieceError{Index: buf.index, Err: err}
			}
			ok, err := buf.accept(int(index), int(begin), block)
			if err != nil {
				return &PieceError{Index: buf.index, Err: err}
			}
			if !ok {
				s.logger.Debug("discarding block", zap.Uint32("piece", index), zap.Uint32("begin", begin))
				continue
			}
			got++
			if s.limiter != nil {
				if err := s.limiter.WaitN(ctx, len(block)); err != nil {
					return &PieceError{Index: buf.index, Err: err}
				}
			}
		case message.Choke:
			s.choked = true
			return &PieceError{Index: buf.index, Err: ErrChoked}
		default:
			if err := s.handle(msg); err != nil {
				return &PieceError{Index: buf.index, Err: err}
			}
		}
	}
	return nil
}
