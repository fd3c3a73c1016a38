// Package allocator coordinates piece ownership across concurrent peer sessions.
package allocator

import (
	"fmt"
	"sync"
	"sync/atomic"

	bitmap "github.com/boljen/go-bitmap"
	"go.uber.org/zap"
)

type PieceState int

const (
	Missing PieceState = iota
	Downloading
	Downloaded
)

func (s PieceState) String() string {
	switch s {
	case Missing:
		return "missing"
	case Downloading:
		return "downloading"
	case Downloaded:
		return "downloaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PieceRecord is the allocator's view of one piece. Owner is the session
// holding the claim while the piece is Downloading.
type PieceRecord struct {
	State PieceState
	Owner string
}

// PieceSink receives verified pieces.
type PieceSink interface {
	WritePiece(index int, data []byte) error
}

// PieceSet is the read-only view of what a remote peer advertises.
type PieceSet interface {
	HasPiece(index int) bool
}

type Option func(*TorrentStatus)

func WithLogger(logger *zap.Logger) Option {
	return func(s *TorrentStatus) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// TorrentStatus is the shared piece table. Claims and state changes happen
// under one mutex; the counters are atomics so progress can be read without it.
// The completed bitmap is the only record of Downloaded pieces; pieces holds
// claims and is reset once a piece is committed.
type TorrentStatus struct {
	mu         sync.Mutex
	pieces     []PieceRecord
	committing []bool
	completed  bitmap.Bitmap

	sink   PieceSink
	logger *zap.Logger

	remaining       atomic.Int64
	downloading     atomic.Int64
	activePeers     atomic.Int64
	downloadedBytes atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
}

// New creates the table with every piece Missing. A nil sink accepts every piece.
func New(numPieces int, sink PieceSink, opts ...Option) *TorrentStatus {
	s := &TorrentStatus{
		pieces:     make([]PieceRecord, numPieces),
		committing: make([]bool, numPieces),
		completed:  bitmap.New(numPieces),
		sink:       sink,
		logger:     zap.NewNop(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.remaining.Store(int64(numPieces))
	if numPieces == 0 {
		s.markDone()
	}
	return s
}

// SelectPiece claims the lowest-index Missing piece that have contains.
func (s *TorrentStatus) SelectPiece(owner string, have PieceSet) (int, bool) {
	s.mu.Lock()
	index := -1
	for i := range s.pieces {
		if s.stateOf(i) == Missing && have.HasPiece(i) {
			s.pieces[i] = PieceRecord{State: Downloading, Owner: owner}
			index = i
			break
		}
	}
	s.mu.Unlock()

	if index < 0 {
		return 0, false
	}
	s.downloading.Add(1)
	s.logger.Debug("piece claimed", zap.Int("piece", index), zap.String("owner", owner))
	return index, true
}

// PieceDownloaded commits a verified piece. The sink write happens outside
// the table lock while the claim is still held; if it fails the piece goes
// back to Missing.
func (s *TorrentStatus) PieceDownloaded(index int, data []byte) error {
	s.mu.Lock()
	if err := s.checkIndex(index); err != nil {
		s.mu.Unlock()
		return err
	}
	if st := s.stateOf(index); st != Downloading || s.committing[index] {
		s.mu.Unlock()
		return &StateError{Index: index, Op: "commit", State: st}
	}
	s.committing[index] = true
	s.mu.Unlock()

	var writeErr error
	if s.sink != nil {
		writeErr = s.sink.WritePiece(index, data)
	}

	s.mu.Lock()
	s.committing[index] = false
	if writeErr != nil {
		s.pieces[index] = PieceRecord{State: Missing}
		s.mu.Unlock()
		s.downloading.Add(-1)
		s.logger.Warn("piece write failed", zap.Int("piece", index), zap.Error(writeErr))
		return fmt.Errorf("writing piece %d: %w", index, writeErr)
	}
	s.completed.Set(index, true)
	s.pieces[index] = PieceRecord{}
	s.mu.Unlock()

	s.downloading.Add(-1)
	s.downloadedBytes.Add(int64(len(data)))
	if s.remaining.Add(-1) == 0 {
		s.markDone()
	}
	return nil
}

// PieceAborted releases a claim. Pieces that are not Downloading, or that
// are being committed, are left alone.
func (s *TorrentStatus) PieceAborted(index int) error {
	s.mu.Lock()
	if err := s.checkIndex(index); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.stateOf(index) != Downloading || s.committing[index] {
		s.mu.Unlock()
		return nil
	}
	owner := s.pieces[index].Owner
	s.pieces[index] = PieceRecord{State: Missing}
	s.mu.Unlock()

	s.downloading.Add(-1)
	s.logger.Debug("piece aborted", zap.Int("piece", index), zap.String("owner", owner))
	return nil
}

func (s *TorrentStatus) PeerConnected() {
	s.activePeers.Add(1)
}

func (s *TorrentStatus) PeerDisconnected() {
	s.activePeers.Add(-1)
}

func (s *TorrentStatus) RemainingPieces() int {
	return int(s.remaining.Load())
}

func (s *TorrentStatus) CurrentDownloadingPieces() int {
	return int(s.downloading.Load())
}

func (s *TorrentStatus) ActivePeers() int {
	return int(s.activePeers.Load())
}

func (s *TorrentStatus) DownloadedBytes() int64 {
	return s.downloadedBytes.Load()
}

// Piece returns a snapshot of one record. Out-of-range indices yield the zero record.
func (s *TorrentStatus) Piece(index int) PieceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkIndex(index) != nil {
		return PieceRecord{}
	}
	if bitmap.Get(s.completed, index) {
		return PieceRecord{State: Downloaded}
	}
	return s.pieces[index]
}

// MissingPieces lists the pieces that are neither claimed nor committed.
func (s *TorrentStatus) MissingPieces() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for i := range s.pieces {
		if s.stateOf(i) == Missing {
			out = append(out, i)
		}
	}
	return out
}

// Done is closed once every piece has been committed.
func (s *TorrentStatus) Done() <-chan struct{} {
	return s.done
}

func (s *TorrentStatus) markDone() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.logger.Info("all pieces downloaded", zap.Int("pieces", len(s.pieces)))
	})
}

// stateOf must be called with mu held.
func (s *TorrentStatus) stateOf(index int) PieceState {
	if bitmap.Get(s.completed, index) {
		return Downloaded
	}
	return s.pieces[index].State
}

func (s *TorrentStatus) checkIndex(index int) error {
	if index < 0 || index >= len(s.pieces) {
		return fmt.Errorf("%w: %d (have %d pieces)", ErrPieceOutOfRange, index, len(s.pieces))
	}
	return nil
}
