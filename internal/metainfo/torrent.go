package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	bencode "github.com/jackpal/bencode-go"
	"github.com/spf13/afero"
)

// TorrentFile represents a parsed .torrent file
type TorrentFile struct {
	Announce string `bencode:"announce"`
	Info     Info   `bencode:"info"`
	InfoHash [20]byte
}

type Info struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length"`
	Files       []InfoFile `bencode:"files"`
}

type InfoFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Load reads and parses a .torrent file from fs.
func Load(fs afero.Fs, path string) (*TorrentFile, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening torrent file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a bencoded torrent and computes its info hash over the
// re-encoded info dictionary.
func Parse(r io.Reader) (*TorrentFile, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading torrent file: %w", err)
	}

	decoded, err := bencode.Decode(bytes.NewReader(contents))
	if err != nil {
		return nil, fmt.Errorf("error decoding torrent file: %w", err)
	}
	dict, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed torrent file: top level is not a dictionary")
	}
	infoDict, ok := dict["info"]
	if !ok {
		return nil, fmt.Errorf("malformed torrent file: missing info dictionary")
	}

	var infoBuf bytes.Buffer
	if err := bencode.Marshal(&infoBuf, infoDict); err != nil {
		return nil, fmt.Errorf("error encoding info dictionary: %w", err)
	}

	t := &TorrentFile{InfoHash: sha1.Sum(infoBuf.Bytes())}
	if err := bencode.Unmarshal(bytes.NewReader(contents), t); err != nil {
		return nil, fmt.Errorf("error unmarshalling torrent file: %w", err)
	}
	return t, nil
}

// TotalLength returns the content length, summing file lengths for
// multi-file torrents.
func (t *TorrentFile) TotalLength() int64 {
	if len(t.Info.Files) == 0 {
		return t.Info.Length
	}
	var total int64
	for _, f := range t.Info.Files {
		total += f.Length
	}
	return total
}

// Metadata converts the parsed file into the view used by the download engine.
func (t *TorrentFile) Metadata() (*Metadata, error) {
	m, err := New(t.InfoHash, t.TotalLength(), t.Info.PieceLength, []byte(t.Info.Pieces))
	if err != nil {
		return nil, fmt.Errorf("invalid torrent %q: %w", t.Info.Name, err)
	}
	m.Name = t.Info.Name
	for _, f := range t.Info.Files {
		m.Files = append(m.Files, File{Path: f.Path, Length: f.Length})
	}
	return m, nil
}
