package main

import (
	"bytes"
	"crypto/sha1"
	"testing"

	bencode "github.com/jackpal/bencode-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTorrent(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	sum := sha1.Sum([]byte("piece"))
	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info": map[string]interface{}{
			"name":         "sample.txt",
			"length":       int64(5),
			"piece length": int64(16384),
			"pieces":       string(sum[:]),
		},
	}))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func TestHandleInfo(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTorrent(t, fs, "/sample.torrent")
	assert.NoError(t, handleInfo(fs, "/sample.torrent"))
	assert.Error(t, handleInfo(fs, "/missing.torrent"))
}

func TestHandleDecode(t *testing.T) {
	assert.NoError(t, handleDecode("d3:foo3:bar5:helloi52ee"))
	assert.Error(t, handleDecode("x"))
}

func TestHandleDownloadArguments(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTorrent(t, fs, "/sample.torrent")

	err := handleDownload(fs, []string{"bittorrent", "download", "/out", "/sample.torrent", "127.0.0.1:1"}, zap.NewNop())
	assert.ErrorContains(t, err, "-o")

	err = handleDownload(fs, []string{"bittorrent", "download", "-o", "/out", "/sample.torrent", "not-an-addr"}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid peer address")
}

func TestHandleDownloadPieceArguments(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTorrent(t, fs, "/sample.torrent")

	err := handleDownloadPiece(fs, []string{"bittorrent", "download_piece", "/out", "/sample.torrent", "127.0.0.1:1", "0"}, zap.NewNop())
	assert.ErrorContains(t, err, "-o")

	err = handleDownloadPiece(fs, []string{"bittorrent", "download_piece", "-o", "/out", "/sample.torrent", "127.0.0.1:1", "first"}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid piece index")

	err = handleDownloadPiece(fs, []string{"bittorrent", "download_piece", "-o", "/out", "/sample.torrent", "127.0.0.1:1", "3"}, zap.NewNop())
	assert.ErrorContains(t, err, "piece 3")
	exists, _ := afero.Exists(fs, "/out")
	assert.False(t, exists)
}

func TestRunCommandUnknown(t *testing.T) {
	assert.ErrorContains(t, runCommand("seed", []string{"bittorrent", "seed", "x"}, zap.NewNop()), "unknown command")
}
