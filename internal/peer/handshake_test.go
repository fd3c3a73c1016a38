package peer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leorafaelmb/bittorrent-client/internal"
	"github.com/leorafaelmb/bittorrent-client/internal/message"
)

var (
	testInfoHash = [20]byte{0xd6, 0x9f, 0x91, 0xe6, 0xb2, 0xae, 0x4c, 0x54, 0x24, 0x68,
		0xd1, 0x07, 0x3a, 0x71, 0xd4, 0xea, 0x13, 0x87, 0x9a, 0x7f}
	testPeerID   = [20]byte{'-', 'L', 'B', '0', '0', '0', '1', '-', 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	remotePeerID = [20]byte{'-', 'R', 'M', '0', '0', '0', '1', '-'}
)

func TestHandshakeSerialize(t *testing.T) {
	buf := NewHandshake(testInfoHash, testPeerID).Serialize()
	require.Len(t, buf, internal.HandshakeLength)
	assert.Equal(t, byte(19), buf[0])
	assert.Equal(t, internal.ProtocolString, string(buf[1:20]))
	assert.Equal(t, make([]byte, 8), buf[20:28])
	assert.Equal(t, testInfoHash[:], buf[28:48])
	assert.Equal(t, testPeerID[:], buf[48:68])
}

func TestReadHandshake(t *testing.T) {
	want := NewHandshake(testInfoHash, remotePeerID)
	got, err := ReadHandshake(bytes.NewReader(want.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadHandshakeShort(t *testing.T) {
	buf := NewHandshake(testInfoHash, remotePeerID).Serialize()
	_, err := ReadHandshake(bytes.NewReader(buf[:40]))

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadHandshakeMalformed(t *testing.T) {
	buf := NewHandshake(testInfoHash, remotePeerID).Serialize()
	buf[0] = 18
	_, err := ReadHandshake(bytes.NewReader(buf))
	var hsErr *HandshakeError
	assert.ErrorAs(t, err, &hsErr)

	buf = NewHandshake(testInfoHash, remotePeerID).Serialize()
	copy(buf[1:20], "BitTorrent protocoL")
	_, err = ReadHandshake(bytes.NewReader(buf))
	assert.ErrorAs(t, err, &hsErr)
}

// servePeer accepts a single connection and answers the handshake with reply.
func servePeer(t *testing.T, reply []byte) netip.AddrPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := ReadHandshake(conn); err != nil {
			return
		}
		if reply != nil {
			conn.Write(reply)
		}
		// hold the connection open until the client hangs up
		io.Copy(io.Discard, conn)
	}()

	return netip.MustParseAddrPort(ln.Addr().String())
}

func connect(t *testing.T, addr netip.AddrPort, timeout time.Duration) *Peer {
	t.Helper()
	p := New(addr, timeout)
	require.NoError(t, p.Connect(context.Background(), time.Second))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPeerHandshake(t *testing.T) {
	addr := servePeer(t, NewHandshake(testInfoHash, remotePeerID).Serialize())
	p := connect(t, addr, time.Second)

	h, err := p.Handshake(testInfoHash, testPeerID)
	require.NoError(t, err)
	assert.Equal(t, remotePeerID, h.PeerID)
	assert.Equal(t, remotePeerID, p.ID)
}

func TestPeerHandshakeInfoHashMismatch(t *testing.T) {
	other := testInfoHash
	other[0] ^= 0xff
	addr := servePeer(t, NewHandshake(other, remotePeerID).Serialize())
	p := connect(t, addr, time.Second)

	_, err := p.Handshake(testInfoHash, testPeerID)
	assert.ErrorIs(t, err, ErrInfoHashMismatch)

	var hsErr *HandshakeError
	assert.False(t, errors.As(err, &hsErr))
}

func TestPeerHandshakeTimeout(t *testing.T) {
	addr := servePeer(t, nil)
	p := connect(t, addr, 100*time.Millisecond)

	_, err := p.Handshake(testInfoHash, testPeerID)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestPeerConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(ln.Addr().String())
	ln.Close()

	p := New(addr, time.Second)
	assert.Error(t, p.Connect(context.Background(), time.Second))
}

func TestPeerSendAndReadMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	p := &Peer{Conn: client, Timeout: time.Second}

	go func() {
		msg, err := message.Read(server)
		if err != nil || msg.ID != message.Request {
			return
		}
		server.Write(message.FormatPiece(0, 0, []byte{42}).Serialize())
	}()

	require.NoError(t, p.SendRequest(0, 0, 1))
	msg, err := p.ReadMessage()
	require.NoError(t, err)
	_, _, block, err := message.ParsePiece(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, block)
}
