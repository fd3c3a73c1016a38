package downloader

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leorafaelmb/bittorrent-client/internal"
)

type Config struct {
	MaxWorkers       int
	MaxRetries       int
	PipelineDepth    int
	Timeout          time.Duration
	DialTimeout      time.Duration
	ReadWriteTimeout time.Duration
	ProgressInterval time.Duration

	// RateLimit caps download throughput in bytes per second across all sessions.
	RateLimit rate.Limit
	PeerID    [20]byte
	Logger    *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxWorkers:       50,
		MaxRetries:       3,
		PipelineDepth:    internal.DefaultPipelineDepth,
		Timeout:          5 * time.Minute,
		DialTimeout:      internal.ConnectionTimeout,
		ReadWriteTimeout: internal.ReadWriteTimeout,
		ProgressInterval: 500 * time.Millisecond,
		RateLimit:        rate.Inf,
		PeerID:           NewPeerID(),
		Logger:           zap.NewNop(),
	}
}

// NewPeerID returns the client prefix followed by 12 random bytes.
func NewPeerID() [20]byte {
	var id [20]byte
	copy(id[:], internal.PeerIDPrefix)
	u := uuid.New()
	copy(id[len(internal.PeerIDPrefix):], u[:])
	return id
}

type Option func(*Config)

func WithMaxWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxWorkers = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxRetries = n
		}
	}
}

func WithPipelineDepth(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.PipelineDepth = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DialTimeout = d
		}
	}
}

func WithReadWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadWriteTimeout = d
		}
	}
}

func WithProgressInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ProgressInterval = d
		}
	}
}

// WithRateLimit caps throughput at bytesPerSec. Zero or negative means unlimited.
func WithRateLimit(bytesPerSec int) Option {
	return func(c *Config) {
		if bytesPerSec > 0 {
			c.RateLimit = rate.Limit(bytesPerSec)
		} else {
			c.RateLimit = rate.Inf
		}
	}
}

func WithPeerID(id [20]byte) Option {
	return func(c *Config) {
		c.PeerID = id
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func newConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// newLimiter returns nil when throughput is unlimited.
func (c Config) newLimiter() *rate.Limiter {
	if c.RateLimit == rate.Inf || c.RateLimit <= 0 {
		return nil
	}
	burst := max(internal.BlockSize, int(c.RateLimit))
	return rate.NewLimiter(c.RateLimit, burst)
}
