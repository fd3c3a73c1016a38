package peer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/leorafaelmb/bittorrent-client/internal"
	"github.com/leorafaelmb/bittorrent-client/internal/message"
)

// Peer represents a network connection to another BitTorrent client.
type Peer struct {
	AddrPort netip.AddrPort
	ID       [20]byte

	Conn net.Conn

	// Timeout bounds every read and write on Conn.
	Timeout time.Duration
}

// New returns an unconnected peer for addr.
func New(addr netip.AddrPort, timeout time.Duration) *Peer {
	if timeout <= 0 {
		timeout = internal.ReadWriteTimeout
	}
	return &Peer{AddrPort: addr, Timeout: timeout}
}

// Connect establishes a TCP connection to the peer
func (p *Peer) Connect(ctx context.Context, dialTimeout time.Duration) error {
	if dialTimeout <= 0 {
		dialTimeout = internal.ConnectionTimeout
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.AddrPort.String())
	if err != nil {
		return fmt.Errorf("error connecting to peer: %w", err)
	}
	p.Conn = conn
	return nil
}

// Close closes the underlying connection, if any.
func (p *Peer) Close() error {
	if p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}

// Handshake performs the BitTorrent handshake with a peer and checks that the
// peer is serving the same torrent.
func (p *Peer) Handshake(infoHash, peerID [20]byte) (*Handshake, error) {
	req := NewHandshake(infoHash, peerID)

	if err := p.Conn.SetWriteDeadline(time.Now().Add(p.Timeout)); err != nil {
		return nil, &HandshakeError{Reason: "error setting write deadline", Err: err}
	}
	if _, err := p.Conn.Write(req.Serialize()); err != nil {
		return nil, &HandshakeError{Reason: "error writing peer handshake message to connection", Err: err}
	}

	if err := p.Conn.SetReadDeadline(time.Now().Add(p.Timeout)); err != nil {
		return nil, &HandshakeError{Reason: "error setting read deadline", Err: err}
	}
	h, err := ReadHandshake(p.Conn)
	if err != nil {
		return nil, err
	}
	if h.InfoHash != infoHash {
		return h, fmt.Errorf("%w: expected %x, got %x", ErrInfoHashMismatch, infoHash, h.InfoHash)
	}

	p.ID = h.PeerID
	return h, nil
}

// ReadMessage reads one complete message from the peer.
// Blocks until a full message is received or the read deadline passes.
func (p *Peer) ReadMessage() (*message.Message, error) {
	if err := p.Conn.SetReadDeadline(time.Now().Add(p.Timeout)); err != nil {
		return nil, err
	}
	return message.Read(p.Conn)
}

// SendMessage writes msg to the peer without waiting for a reply.
func (p *Peer) SendMessage(msg *message.Message) error {
	if err := p.Conn.SetWriteDeadline(time.Now().Add(p.Timeout)); err != nil {
		return err
	}
	if _, err := p.Conn.Write(msg.Serialize()); err != nil {
		return fmt.Errorf("error writing %s to connection: %w", msg, err)
	}
	return nil
}

// SendInterested tells the peer we want to download from them.
func (p *Peer) SendInterested() error {
	return p.SendMessage(&message.Message{ID: message.Interested})
}

// SendNotInterested tells the peer we no longer want anything from them.
func (p *Peer) SendNotInterested() error {
	return p.SendMessage(&message.Message{ID: message.NotInterested})
}

// SendRequest requests a specific block from a piece.
// index: which piece, begin: byte offset within piece, length: number of bytes
func (p *Peer) SendRequest(index, begin, length uint32) error {
	return p.SendMessage(message.FormatRequest(index, begin, length))
}

func (p *Peer) String() string {
	return p.AddrPort.String()
}
