package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrReadTimeout is returned when a per-message read budget is exhausted
// before a full message could be assembled.
var ErrReadTimeout = errors.New("netconf: read timed out")

// ErrTransportBroken indicates an unrecoverable I/O failure on the
// underlying raw connection.
var ErrTransportBroken = errors.New("netconf: transport broken")

// ErrPeerClosed indicates the remote end closed the connection in an
// orderly fashion (EOF, channel-eof, or TLS close_notify). It wraps io.EOF
// so that Framer's readers -- which already know how to turn a bare io.EOF
// from their underlying io.Reader into io.ErrUnexpectedEOF mid-message --
// handle it without any RawConn-specific casing.
var ErrPeerClosed = fmt.Errorf("netconf: peer closed connection: %w", io.EOF)

// ErrWriteClosed is returned by transport/fd's write when the peer has
// already closed its end of the connection (EPIPE).
var ErrWriteClosed = errors.New("netconf: write on closed connection")

// RawConn is the narrow, per-transport contract the Timeout Ticker and
// Framer are built on top of. transport/fd adapts its raw descriptors to
// this interface; transport/ssh and transport/tls do not implement it and
// wrap their connections in a Framer directly.
type RawConn interface {
	// ReadSome returns any bytes immediately available, without blocking
	// for more than the implementation's natural poll granularity. A
	// result of (0, nil) means "no data right now, not EOF" and the
	// caller should retry. EOF-like conditions are reported as
	// ErrPeerClosed; hard failures as ErrTransportBroken.
	ReadSome(p []byte) (n int, err error)

	// Write writes all of p, looping internally over partial writes.
	Write(p []byte) (n int, err error)

	// Poll waits up to timeout for the connection to become readable.
	Poll(timeout time.Duration) (readable bool, err error)

	// IsConnected is a non-blocking liveness check.
	IsConnected() bool

	Close() error
}

// Ticker turns a sequence of non-blocking RawConn.ReadSome calls into a
// io.Reader with a wall-clock deadline for one logical message, per the
// framing core's Timeout Ticker component. The budget is established once
// (via NewTicker) and decremented cumulatively across every Read call made
// through the returned reader -- exactly the semantics a V1.1 chunked
// message needs when its header and its chunks arrive as separate reads.
type Ticker struct {
	conn     RawConn
	deadline time.Time
	step     time.Duration
}

// NewTicker starts a new read budget of budget, to be ticked down in steps
// of step on every unproductive (0-byte) read.
func NewTicker(conn RawConn, budget, step time.Duration) *Ticker {
	if step <= 0 {
		step = 100 * time.Microsecond
	}
	return &Ticker{
		conn:     conn,
		deadline: time.Now().Add(budget),
		step:     step,
	}
}

// Read implements io.Reader, blocking (via sleep/retry) until at least one
// byte is available, the deadline elapses, or the connection fails.
func (t *Ticker) Read(p []byte) (int, error) {
	for {
		n, err := t.conn.ReadSome(p)
		if n > 0 || err != nil {
			return n, err
		}

		if time.Now().After(t.deadline) {
			return 0, ErrReadTimeout
		}

		time.Sleep(t.step)
	}
}
