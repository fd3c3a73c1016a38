package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	bencode "github.com/jackpal/bencode-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/leorafaelmb/bittorrent-client/internal/downloader"
	"github.com/leorafaelmb/bittorrent-client/internal/metainfo"
	"github.com/leorafaelmb/bittorrent-client/internal/peer"
)

func runCommand(command string, args []string, logger *zap.Logger) error {
	switch command {
	case "decode":
		return handleDecode(args[2])
	case "info":
		return handleInfo(afero.NewOsFs(), args[2])
	case "handshake":
		return handleHandshake(afero.NewOsFs(), args)
	case "download_piece":
		return handleDownloadPiece(afero.NewOsFs(), args, logger)
	case "download":
		return handleDownload(afero.NewOsFs(), args, logger)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func handleDecode(bencodedValue string) error {
	decoded, err := bencode.Decode(strings.NewReader(bencodedValue))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func loadMetadata(fs afero.Fs, path string) (*metainfo.TorrentFile, *metainfo.Metadata, error) {
	t, err := metainfo.Load(fs, path)
	if err != nil {
		return nil, nil, err
	}
	meta, err := t.Metadata()
	if err != nil {
		return nil, nil, err
	}
	return t, meta, nil
}

func handleInfo(fs afero.Fs, filePath string) error {
	t, meta, err := loadMetadata(fs, filePath)
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Size: %s\n", humanize.Bytes(uint64(meta.Length)))
	fmt.Println(meta)
	return nil
}

func handleHandshake(fs afero.Fs, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("handshake needs a torrent file and a peer address\n%s", usage)
	}
	_, meta, err := loadMetadata(fs, args[2])
	if err != nil {
		return err
	}
	addrPort, err := netip.ParseAddrPort(args[3])
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", args[3], err)
	}

	cfg := downloader.DefaultConfig()
	p := peer.New(addrPort, cfg.ReadWriteTimeout)
	if err := p.Connect(context.Background(), cfg.DialTimeout); err != nil {
		return err
	}
	defer p.Close()

	response, err := p.Handshake(meta.InfoHash, cfg.PeerID)
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID: %x\n", response.PeerID)
	return nil
}

func handleDownloadPiece(fs afero.Fs, args []string, logger *zap.Logger) error {
	if len(args) < 7 || args[2] != "-o" {
		return fmt.Errorf("download_piece needs -o <output path>, a torrent file, a peer and a piece index\n%s", usage)
	}
	outPath := args[3]

	_, meta, err := loadMetadata(fs, args[4])
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddrPort(args[5])
	if err != nil {
		return fmt.Errorf("invalid peer address %q: %w", args[5], err)
	}
	index, err := strconv.Atoi(args[6])
	if err != nil {
		return fmt.Errorf("invalid piece index %q: %w", args[6], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data, err := downloader.DownloadPiece(ctx, meta, addr, index, downloader.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, outPath, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Piece %d downloaded to %s\n", index, outPath)
	return nil
}

func handleDownload(fs afero.Fs, args []string, logger *zap.Logger) error {
	if len(args) < 6 || args[2] != "-o" {
		return fmt.Errorf("download needs -o <output path>, a torrent file and at least one peer\n%s", usage)
	}
	outPath := args[3]

	_, meta, err := loadMetadata(fs, args[4])
	if err != nil {
		return err
	}

	peers := make([]netip.AddrPort, 0, len(args)-5)
	for _, a := range args[5:] {
		addr, err := netip.ParseAddrPort(a)
		if err != nil {
			return fmt.Errorf("invalid peer address %q: %w", a, err)
		}
		peers = append(peers, addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	err = downloader.DownloadFile(ctx, fs, meta, peers, outPath,
		downloader.WithLogger(logger),
		downloader.WithMaxWorkers(min(10, len(peers))))
	if err != nil {
		return err
	}

	fmt.Printf("Downloaded %s to %s in %s\n",
		humanize.Bytes(uint64(meta.Length)), outPath, time.Since(start).Round(time.Millisecond))
	return nil
}
