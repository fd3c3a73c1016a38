// Package storage persists verified pieces to an afero file system.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
)

type target struct {
	path   string
	length int64
	mu     sync.Mutex
	file   afero.File
}

// File writes each piece at index*PieceLength of the torrent's content,
// splitting writes across file boundaries for multi-file torrents.
type File struct {
	pieceLength int64
	length      int64
	targets     []*target
}

// Open creates or opens the output files. A single-file torrent is written
// to outPath; a multi-file torrent is laid out under the outPath directory.
func Open(fs afero.Fs, outPath string, meta *metainfo.Metadata) (*File, error) {
	f := &File{
		pieceLength: meta.PieceLength,
		length:      meta.Length,
	}

	if meta.IsSingleFile() {
		f.targets = []*target{{path: outPath, length: meta.Length}}
	} else {
		for _, mf := range meta.Files {
			f.targets = append(f.targets, &target{
				path:   filepath.Join(append([]string{outPath}, mf.Path...)...),
				length: mf.Length,
			})
		}
	}

	for _, t := range f.targets {
		if dir := filepath.Dir(t.path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				f.Close()
				return nil, fmt.Errorf("error creating directory %s: %w", dir, err)
			}
		}
		file, err := fs.OpenFile(t.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("error opening %s: %w", t.path, err)
		}
		t.file = file
		if err := file.Truncate(t.length); err != nil {
			f.Close()
			return nil, fmt.Errorf("error sizing %s: %w", t.path, err)
		}
	}
	return f, nil
}

// WritePiece implements allocator.PieceSink.
func (f *File) WritePiece(index int, data []byte) error {
	offset := int64(index) * f.pieceLength
	if index < 0 || offset+int64(len(data)) > f.length {
		return fmt.Errorf("piece %d of %d bytes does not fit in %d byte torrent", index, len(data), f.length)
	}

	for _, t := range f.targets {
		if len(data) == 0 {
			break
		}
		if offset >= t.length {
			offset -= t.length
			continue
		}

		n := min(int64(len(data)), t.length-offset)
		t.mu.Lock()
		_, err := t.file.WriteAt(data[:n], offset)
		t.mu.Unlock()
		if err != nil {
			return fmt.Errorf("error writing piece %d to %s: %w", index, t.path, err)
		}
		data = data[n:]
		offset = 0
	}
	return nil
}

// Paths lists the files backing the torrent, in piece order.
func (f *File) Paths() []string {
	out := make([]string, len(f.targets))
	for i, t := range f.targets {
		out[i] = t.path
	}
	return out
}

func (f *File) Close() error {
	var errs []error
	for _, t := range f.targets {
		if t.file != nil {
			errs = append(errs, t.file.Close())
			t.file = nil
		}
	}
	return errors.Join(errs...)
}
