package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leorafaelmb/bittorrent-client/internal/allocator"
	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
	"github.com/leorafaelmb/bittorrent-client/internal/peer"
	"github.com/leorafaelmb/bittorrent-client/internal/storage"
)

// Downloader runs peer sessions on a bounded worker pool until every piece
// of the torrent has been committed to the sink.
type Downloader struct {
	meta    *metainfo.Metadata
	status  *allocator.TorrentStatus
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	banned mapset.Set

	mu            sync.Mutex
	sessionErrors map[string]error
}

func New(meta *metainfo.Metadata, sink allocator.PieceSink, opts ...Option) *Downloader {
	cfg := newConfig(opts...)
	return &Downloader{
		meta:          meta,
		status:        allocator.New(meta.NumPieces(), sink, allocator.WithLogger(cfg.Logger)),
		config:        cfg,
		logger:        cfg.Logger,
		limiter:       cfg.newLimiter(),
		banned:        mapset.NewSet(),
		sessionErrors: make(map[string]error),
	}
}

// Status exposes the shared piece table for progress queries.
func (d *Downloader) Status() *allocator.TorrentStatus {
	return d.status
}

// Banned reports whether addr was dropped for serving corrupt data, breaking
// the wire protocol or serving the wrong torrent.
func (d *Downloader) Banned(addr netip.AddrPort) bool {
	return d.banned.Contains(addr.String())
}

type job struct {
	addr    netip.AddrPort
	attempt int
}

// Download orchestrates concurrent download from multiple peers using a worker pool
func (d *Downloader) Download(ctx context.Context, peers []netip.AddrPort) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	// every job is one peer, so the queue never holds more than len(peers)
	jobs := make(chan job, len(peers))
	var pending sync.WaitGroup
	pending.Add(len(peers))
	for _, p := range peers {
		jobs <- job{addr: p}
	}
	go func() {
		pending.Wait()
		close(jobs)
	}()

	var wg sync.WaitGroup
	numWorkers := min(d.config.MaxWorkers, len(peers))
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				d.runJob(ctx, j, jobs, &pending)
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	d.logger.Info("starting download",
		zap.String("name", d.meta.Name),
		zap.Int("pieces", d.meta.NumPieces()),
		zap.Int("peers", len(peers)),
		zap.Int("workers", numWorkers))

	ticker := time.NewTicker(d.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.status.Done():
			cancel()
			<-workersDone
			d.logProgress()
			return nil

		case <-workersDone:
			return d.result(ctx)

		case <-ctx.Done():
			<-workersDone
			return d.result(ctx)

		case <-ticker.C:
			d.logProgress()
		}
	}
}

func (d *Downloader) result(ctx context.Context) error {
	if d.status.RemainingPieces() == 0 {
		d.logProgress()
		return nil
	}
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{
			Duration:         d.config.Timeout,
			PiecesTotal:      d.meta.NumPieces(),
			PiecesDownloaded: d.meta.NumPieces() - d.status.RemainingPieces(),
		}
	case err != nil:
		return err
	}
	return d.downloadError()
}

func (d *Downloader) runJob(ctx context.Context, j job, jobs chan<- job, pending *sync.WaitGroup) {
	addr := j.addr.String()
	if ctx.Err() != nil || d.banned.Contains(addr) || d.status.RemainingPieces() == 0 {
		pending.Done()
		return
	}

	s := NewSession(j.addr, d.meta, d.status, d.config)
	s.limiter = d.limiter
	err := s.Start(ctx)
	if err != nil && ctx.Err() == nil {
		d.recordError(addr, err)
		d.logger.Warn("session failed", zap.String("peer", addr), zap.Int("attempt", j.attempt+1), zap.Error(err))
	}

	if errors.Is(err, ErrHashMismatch) || errors.Is(err, ErrProtocol) || errors.Is(err, peer.ErrInfoHashMismatch) {
		d.banned.Add(addr)
		d.logger.Warn("banned peer", zap.String("peer", addr))
		pending.Done()
		return
	}

	// other sessions may still give pieces back, so idle peers get another go too
	if j.attempt+1 >= d.config.MaxRetries || ctx.Err() != nil || d.status.RemainingPieces() == 0 {
		pending.Done()
		return
	}

	next := job{addr: j.addr, attempt: j.attempt + 1}
	backoff := time.Duration(next.attempt) * 100 * time.Millisecond
	go func() {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		jobs <- next
	}()
}

func (d *Downloader) recordError(addr string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionErrors[addr] = err
}

func (d *Downloader) downloadError() *DownloadError {
	d.mu.Lock()
	defer d.mu.Unlock()

	errs := make(map[string]error, len(d.sessionErrors))
	for k, v := range d.sessionErrors {
		errs[k] = v
	}
	return &DownloadError{
		TorrentName:  d.meta.Name,
		FailedPieces: d.status.MissingPieces(),
		TotalPieces:  d.meta.NumPieces(),
		WorkerErrors: errs,
	}
}

func (d *Downloader) logProgress() {
	total := d.meta.NumPieces()
	done := total - d.status.RemainingPieces()
	percent := 100.0
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}
	d.logger.Info("download progress",
		zap.String("downloaded", humanize.Bytes(uint64(d.status.DownloadedBytes()))),
		zap.String("total", humanize.Bytes(uint64(d.meta.Length))),
		zap.Int("pieces_done", done),
		zap.Int("pieces_total", total),
		zap.Int("in_flight", d.status.CurrentDownloadingPieces()),
		zap.Int("active_peers", d.status.ActivePeers()),
		zap.String("percent", fmt.Sprintf("%.1f%%", percent)))
}

// pieceCapture keeps the one piece DownloadPiece asked for.
type pieceCapture struct {
	index int
	data  []byte
}

func (c *pieceCapture) WritePiece(index int, data []byte) error {
	if index == c.index {
		c.data = data
	}
	return nil
}

// DownloadPiece fetches and verifies a single piece from one peer.
func DownloadPiece(ctx context.Context, meta *metainfo.Metadata, addr netip.AddrPort, index int,
	opts ...Option) ([]byte, error) {
	if index < 0 || index >= meta.NumPieces() {
		return nil, &PieceError{Index: index, Err: allocator.ErrPieceOutOfRange}
	}
	cfg := newConfig(opts...)
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	capture := &pieceCapture{index: index}
	status := allocator.New(meta.NumPieces(), capture, allocator.WithLogger(cfg.Logger))
	s := NewSession(addr, meta, status, cfg)
	s.want = func(i int) bool { return i == index }
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	if status.Piece(index).State != allocator.Downloaded {
		return nil, &PieceError{Index: index, Err: ErrUnavailable}
	}
	return capture.data, nil
}

// DownloadFile downloads the torrent from peers and writes it under outPath on fs.
func DownloadFile(ctx context.Context, fs afero.Fs, meta *metainfo.Metadata, peers []netip.AddrPort,
	outPath string, opts ...Option) error {
	out, err := storage.Open(fs, outPath, meta)
	if err != nil {
		return err
	}

	d := New(meta, out, opts...)
	if err := d.Download(ctx, peers); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
