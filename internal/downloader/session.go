package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leorafaelmb/bittorrent-client/internal/allocator"
	"github.com/leorafaelmb/bittorrent-client/internal/message"
	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
	"github.com/leorafaelmb/bittorrent-client/internal/peer"
)

type SessionState int32

const (
	Connecting SessionState = iota
	Handshaking
	Idle
	AwaitingUnchoke
	Downloading
	Disconnected
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Idle:
		return "idle"
	case AwaitingUnchoke:
		return "awaiting-unchoke"
	case Downloading:
		return "downloading"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session drives the conversation with a single remote peer
type Session struct {
	id     string
	peer   *peer.Peer
	meta   *metainfo.Metadata
	status *allocator.TorrentStatus
	config Config

	limiter *rate.Limiter
	logger  *zap.Logger
	state   atomic.Int32

	choked     bool
	interested bool
	bitfield   peer.Bitfield
	// set by the first Bitfield or Have; until then an unchoke is not acted on
	availabilityKnown bool

	// want narrows the pieces this session may claim. Nil means all of them.
	want func(int) bool

	claimed    int
	downloaded int
}

// NewSession creates a session for the peer at addr. Nothing is dialled until Start.
func NewSession(addr netip.AddrPort, meta *metainfo.Metadata, status *allocator.TorrentStatus, cfg Config) *Session {
	id := uuid.NewString()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Session{
		id:      id,
		peer:    peer.New(addr, cfg.ReadWriteTimeout),
		meta:    meta,
		status:  status,
		config:  cfg,
		limiter: cfg.newLimiter(),
		logger:  cfg.Logger.With(zap.Stringer("peer", addr), zap.String("session", id)),
		choked:  true,
		claimed: -1,
	}
	s.setState(Connecting)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Downloaded returns the number of pieces this session committed.
func (s *Session) Downloaded() int {
	return s.downloaded
}

// Start runs the session to completion. It returns nil once the peer has
// nothing left that we need. Whatever the outcome, an uncommitted claim is
// released and the allocator is told the peer is gone.
func (s *Session) Start(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		s.setState(Disconnected)
		return err
	}
	if err := s.peer.Connect(ctx, s.config.DialTimeout); err != nil {
		s.setState(Disconnected)
		return &SessionError{PeerAddr: s.peer.String(), Phase: "connection", Err: err}
	}

	s.status.PeerConnected()
	stop := context.AfterFunc(ctx, func() {
		s.peer.Close()
	})
	defer func() {
		stop()
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		s.release()
	}()

	s.setState(Handshaking)
	h, err := s.peer.Handshake(s.meta.InfoHash, s.config.PeerID)
	if err != nil {
		return &SessionError{PeerAddr: s.peer.String(), Phase: "handshake", Err: err}
	}
	s.logger.Info("handshake complete", zap.String("remote_id", fmt.Sprintf("%x", h.PeerID)))
	s.setState(Idle)

	return s.run(ctx)
}

func (s *Session) run(ctx context.Context) error {
	for {
		if s.choked && !s.interested {
			if err := s.peer.SendInterested(); err != nil {
				return &SessionError{PeerAddr: s.peer.String(), Phase: "message", Err: err}
			}
			s.interested = true
			s.setState(AwaitingUnchoke)
			s.logger.Debug("sent interested")
		}

		if !s.choked && s.interested && s.availabilityKnown {
			finished, err := s.downloadPieces(ctx)
			if err != nil {
				return err
			}
			if finished {
				s.loseInterest()
				return nil
			}
			continue
		}

		msg, err := s.peer.ReadMessage()
		if err != nil {
			return &SessionError{PeerAddr: s.peer.String(), Phase: "message", Err: err}
		}
		if err := s.handle(msg); err != nil {
			return &SessionError{PeerAddr: s.peer.String(), Phase: "message", Err: err}
		}
	}
}

// handle applies a message outside of a block exchange.
func (s *Session) handle(msg *message.Message) error {
	if msg == nil {
		return nil
	}

	switch msg.ID {
	case message.Choke:
		s.choked = true
	case message.Unchoke:
		if s.choked {
			s.logger.Debug("unchoked")
		}
		s.choked = false
	case message.Bitfield:
		if limit := (s.meta.NumPieces() + 7) / 8; len(msg.Payload) > limit {
			return fmt.Errorf("%w: bitfield of %d bytes, torrent needs %d", ErrProtocol, len(msg.Payload), limit)
		}
		s.bitfield = append(peer.Bitfield(nil), msg.Payload...)
		s.availabilityKnown = true
		s.logger.Debug("bitfield received", zap.Int("pieces", s.bitfield.Count()))
	case message.Have:
		index, err := message.ParseHave(msg)
		if err != nil {
			return err
		}
		if int64(index) >= int64(s.meta.NumPieces()) {
			return fmt.Errorf("%w: have for piece %d of %d", ErrProtocol, index, s.meta.NumPieces())
		}
		s.bitfield.SetPiece(int(index))
		s.availabilityKnown = true
	default:
		s.logger.Debug("ignoring message", zap.Stringer("id", msg.ID))
	}
	return nil
}

// downloadPieces claims and fetches pieces until the peer has nothing we
// need (finished) or chokes us (not finished, no error).
func (s *Session) downloadPieces(ctx context.Context) (bool, error) {
	s.setState(Downloading)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		index, ok := s.status.SelectPiece(s.id, wantedPieces{have: s.bitfield, want: s.want})
		if !ok {
			return true, nil
		}
		s.claimed = index

		data, err := s.fetchPiece(ctx, index)
		if errors.Is(err, ErrChoked) {
			s.abortClaim()
			s.setState(AwaitingUnchoke)
			s.logger.Debug("choked mid-piece", zap.Int("piece", index))
			return false, nil
		}
		if err != nil {
			return false, &SessionError{PeerAddr: s.peer.String(), Phase: "download", Err: err}
		}

		// the allocator puts the piece back to Missing itself if the sink fails
		s.claimed = -1
		if err := s.status.PieceDownloaded(index, data); err != nil {
			return false, &SessionError{
				PeerAddr: s.peer.String(),
				Phase:    "download",
				Err:      &PieceError{Index: index, Err: err},
			}
		}
		s.downloaded++
	}
}

// loseInterest tells the peer we are done with it. The session ends either
// way, so a failed send is only logged.
func (s *Session) loseInterest() {
	if err := s.peer.SendNotInterested(); err != nil {
		s.logger.Debug("sending not interested", zap.Error(err))
	}
	s.interested = false
}

type wantedPieces struct {
	have peer.Bitfield
	want func(int) bool
}

func (w wantedPieces) HasPiece(index int) bool {
	return w.have.HasPiece(index) && (w.want == nil || w.want(index))
}

func (s *Session) abortClaim() {
	if s.claimed < 0 {
		return
	}
	if err := s.status.PieceAborted(s.claimed); err != nil {
		s.logger.Warn("releasing piece", zap.Int("piece", s.claimed), zap.Error(err))
	}
	s.claimed = -1
}

func (s *Session) release() {
	s.abortClaim()
	s.status.PeerDisconnected()
	s.peer.Close()
	s.setState(Disconnected)
	s.logger.Info("session finished", zap.Int("downloaded", s.downloaded))
}
