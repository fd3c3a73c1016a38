package downloader

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrHashMismatch = errors.New("piece hash mismatch")
	ErrChoked       = errors.New("peer choked us mid-piece")
	ErrBadBlock     = errors.New("bad block")
	ErrProtocol     = errors.New("peer protocol violation")
	ErrUnavailable  = errors.New("peer does not have the piece")
)

type DownloadError struct {
	TorrentName  string
	FailedPieces []int
	TotalPieces  int
	WorkerErrors map[string]error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed for '%s' : %d/%d pieces failed, %d workers had errors",
		e.TorrentName, len(e.FailedPieces), e.TotalPieces, len(e.WorkerErrors))
}

// SessionError reports the phase in which a peer session failed.
type SessionError struct {
	PeerAddr string
	Phase    string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session with peer %s failed during %s: %v", e.PeerAddr, e.Phase, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

type PieceError struct {
	Index int
	Err   error
}

func (e *PieceError) Error() string {
	return fmt.Sprintf("piece %d: %v", e.Index, e.Err)
}

func (e *PieceError) Unwrap() error {
	return e.Err
}

type TimeoutError struct {
	Duration         time.Duration
	PiecesTotal      int
	PiecesDownloaded int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download timeout after %v: only %d/%d pieces completed",
		e.Duration, e.PiecesDownloaded, e.PiecesTotal)
}
