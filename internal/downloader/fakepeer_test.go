package downloader

import (
	"crypto/sha1"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leorafaelmb/bittorrent-client/internal/message"
	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
	"github.com/leorafaelmb/bittorrent-client/internal/peer"
)

var fakePeerID = [20]byte{'-', 'F', 'K', '0', '0', '0', '1', '-'}

// makeTorrent builds deterministic content and matching metadata.
func makeTorrent(t *testing.T, length, pieceLength int) (*metainfo.Metadata, []byte) {
	t.Helper()
	data := make([]byte, length)
	for i := range data {
		data[i] = byte((i*31 + i/7) % 256)
	}

	var hashes []byte
	for off := 0; off < length; off += pieceLength {
		sum := sha1.Sum(data[off:min(off+pieceLength, length)])
		hashes = append(hashes, sum[:]...)
	}
	infoHash := sha1.Sum([]byte("fake torrent info"))
	meta, err := metainfo.New(infoHash, int64(length), int64(pieceLength), hashes)
	require.NoError(t, err)
	meta.Name = "fake"
	return meta, data
}

// fakePeer serves a torrent's content over loopback TCP.
type fakePeer struct {
	meta *metainfo.Metadata
	data []byte

	infoHash  [20]byte
	has       func(int) bool
	corrupt   func(int) bool
	reverse   bool // answer each burst of requests in reverse order
	chokeOnce bool // choke on the first request, drop the burst, then unchoke
	silent    bool // never unchoke
	haveOnly  bool // skip the bitfield; unchoke first, then announce pieces with have
	rawHaves  []uint32

	conns         atomic.Int64
	served        atomic.Int64
	notInterested atomic.Int64
}

func newFakePeer(meta *metainfo.Metadata, data []byte) *fakePeer {
	return &fakePeer{meta: meta, data: data, infoHash: meta.InfoHash}
}

func (f *fakePeer) start(t *testing.T) netip.AddrPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.conns.Add(1)
			go f.serve(conn)
		}
	}()
	return netip.MustParseAddrPort(ln.Addr().String())
}

func (f *fakePeer) serve(conn net.Conn) {
	defer conn.Close()

	if _, err := peer.ReadHandshake(conn); err != nil {
		return
	}
	if _, err := conn.Write(peer.NewHandshake(f.infoHash, fakePeerID).Serialize()); err != nil {
		return
	}

	if !f.haveOnly {
		bf := make(peer.Bitfield, (f.meta.NumPieces()+7)/8)
		for i := 0; i < f.meta.NumPieces(); i++ {
			if f.has == nil || f.has(i) {
				bf.SetPiece(i)
			}
		}
		if !f.write(conn, &message.Message{ID: message.Bitfield, Payload: bf}) {
			return
		}
	}
	for _, index := range f.rawHaves {
		if !f.write(conn, message.FormatHave(index)) {
			return
		}
	}

	var pending []*message.Message
	willChoke, dropping := f.chokeOnce, false
	burst := f.reverse || f.chokeOnce
	for {
		wait := 5 * time.Second
		if burst {
			wait = 30 * time.Millisecond
		}
		conn.SetReadDeadline(time.Now().Add(wait))

		msg, err := message.Read(conn)
		if err != nil {
			var ne net.Error
			if !burst || !errors.As(err, &ne) || !ne.Timeout() {
				return
			}
			// the client has gone quiet, so the burst is over
			if dropping {
				dropping = false
				if !f.write(conn, &message.Message{ID: message.Unchoke}) {
					return
				}
			}
			for i := len(pending) - 1; i >= 0; i-- {
				if !f.write(conn, pending[i]) {
					return
				}
			}
			pending = pending[:0]
			continue
		}
		if msg == nil {
			continue
		}

		switch msg.ID {
		case message.Interested:
			if !f.silent && !f.write(conn, &message.Message{ID: message.Unchoke}) {
				return
			}
			if f.haveOnly && !f.announce(conn) {
				return
			}
		case message.NotInterested:
			f.notInterested.Add(1)
		case message.Request:
			if dropping {
				continue
			}
			if willChoke {
				willChoke = false
				dropping = true
				if !f.write(conn, &message.Message{ID: message.Choke}) {
					return
				}
				continue
			}

			index, begin, length, err := message.ParseRequest(msg)
			if err != nil {
				return
			}
			off := int(f.meta.PieceLength)*int(index) + int(begin)
			block := append([]byte(nil), f.data[off:off+int(length)]...)
			if f.corrupt != nil && f.corrupt(int(index)) && begin == 0 {
				block[0] ^= 0xff
			}
			f.served.Add(1)

			resp := message.FormatPiece(index, begin, block)
			if f.reverse {
				pending = append(pending, resp)
			} else if !f.write(conn, resp) {
				return
			}
		}
	}
}

func (f *fakePeer) announce(conn net.Conn) bool {
	for i := 0; i < f.meta.NumPieces(); i++ {
		if f.has != nil && !f.has(i) {
			continue
		}
		if !f.write(conn, message.FormatHave(uint32(i))) {
			return false
		}
	}
	return true
}

func (f *fakePeer) write(conn net.Conn, msg *message.Message) bool {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(msg.Serialize())
	return err == nil
}
