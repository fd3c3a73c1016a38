package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

const usage = `usage:
  bittorrent decode <bencoded value>
  bittorrent info <file.torrent>
  bittorrent handshake <file.torrent> <ip:port>
  bittorrent download_piece -o <output path> <file.torrent> <ip:port> <piece index>
  bittorrent download -o <output path> <file.torrent> <ip:port>...`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := runCommand(os.Args[1], os.Args, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger logs JSON at info level, or human readable debug output when
// BITTORRENT_DEBUG is set.
func newLogger() (*zap.Logger, error) {
	if os.Getenv("BITTORRENT_DEBUG") != "" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
