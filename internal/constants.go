package internal

import "time"

// BitTorrent Protocol
const (
	ProtocolString       = "BitTorrent protocol"
	ProtocolStringLength = 19
	HandshakeLength      = 68
	InfoHashLength       = 20
	PeerIDLength         = 20
)

// PeerIDPrefix is the Azureus-style client tag placed at the front of every local peer id.
const PeerIDPrefix = "-LB0001-"

// Download config
const (
	DefaultPipelineDepth = 5       // Maximum concurrent block requests per peer
	BlockSize            = 1 << 14 // 16KB - standard block size
)

// Network config
const (
	ConnectionTimeout = 3 * time.Second
	ReadWriteTimeout  = 30 * time.Second
)
