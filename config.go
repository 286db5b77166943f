package netconf

import (
	"os"
	"time"

	"github.com/nemith/netconf/transport/fd"
)

// Configuration knobs consumed by the transport-agnostic framing core. All
// fields have sane RFC6242-oriented defaults applied by NewConfig.
type Config struct {
	// ReadTimeout bounds how long a single logical message read may take,
	// across however many partial reads it takes to assemble it.
	ReadTimeout time.Duration

	// TimeoutStep is the sleep interval between unsuccessful non-blocking
	// read attempts while ticking down ReadTimeout.
	TimeoutStep time.Duration

	// FramingBufferSize is the framing buffer size knob. It is stored in
	// Config only; transport.Framer and NewFDTransportFromConfig do not read
	// it.
	FramingBufferSize int

	// WriteBufferSize is the outbound write buffer size knob; by convention
	// at least 2x FramingBufferSize. It is stored in Config only;
	// transport.Framer's writer uses bufio's default size.
	WriteBufferSize int

	// FairQueueDepth bounds how many PollSet workers may examine sessions
	// concurrently (see NewPollSetFromConfig). Callers beyond that wait in
	// arrival order; the number of waiting callers is not bounded.
	FairQueueDepth int

	// HelloTimeout bounds the initial hello exchange.
	HelloTimeout time.Duration

	// IdleTimeout, if non-zero, closes a session that has performed no RPC
	// exchange for this long. Server-side only.
	IdleTimeout time.Duration

	// MinVersion/MaxVersion restrict which framing dialects are negotiated.
	// Zero values mean "both dialects supported."
	MinVersion Version
	MaxVersion Version
}

const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultTimeoutStep       = 100 * time.Microsecond
	DefaultFramingBufferSize = 512
	DefaultWriteBufferSize   = 1024
	DefaultFairQueueDepth    = 6
	DefaultHelloTimeout      = 30 * time.Second
)

// NewConfig returns a Config populated with the defaults enumerated in the
// transport core's specification, with opts layered on top.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		ReadTimeout:       DefaultReadTimeout,
		TimeoutStep:       DefaultTimeoutStep,
		FramingBufferSize: DefaultFramingBufferSize,
		WriteBufferSize:   DefaultWriteBufferSize,
		FairQueueDepth:    DefaultFairQueueDepth,
		HelloTimeout:      DefaultHelloTimeout,
		MinVersion:        Version1_0,
		MaxVersion:        Version1_1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type ConfigOption func(*Config)

func WithReadTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.ReadTimeout = d }
}

func WithTimeoutStep(d time.Duration) ConfigOption {
	return func(c *Config) { c.TimeoutStep = d }
}

func WithFairQueueDepth(n int) ConfigOption {
	return func(c *Config) { c.FairQueueDepth = n }
}

func WithIdleTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.IdleTimeout = d }
}

func WithHelloTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.HelloTimeout = d }
}

func WithVersionRange(min, max Version) ConfigOption {
	return func(c *Config) { c.MinVersion, c.MaxVersion = min, max }
}

// NewFDTransportFromConfig wraps transport/fd.New, deriving its read-budget
// options from cfg.ReadTimeout/cfg.TimeoutStep instead of transport/fd's own
// independently-defaulted options, so a deployment configured entirely
// through one Config gets consistent timeouts across the raw-fd transport
// and the session/poll-set layers built on top of it.
func NewFDTransportFromConfig(in, out *os.File, cfg Config) (*fd.Transport, error) {
	return fd.New(in, out, fd.WithReadTimeout(cfg.ReadTimeout), fd.WithTimeoutStep(cfg.TimeoutStep))
}
