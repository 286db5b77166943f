// Package fd implements a NETCONF transport over a raw pair of file
// descriptors, as used when a peer is reached over an already-open pipe or
// socket pair (e.g. a subprocess's stdin/stdout, or a pre-accepted listening
// socket) rather than through the ssh or tls packages.
package fd

import (
	"fmt"
	"os"
	"time"

	"github.com/nemith/netconf/transport"
	"golang.org/x/sys/unix"
)

// alias it to a private type so we can make it private when embedding
type framer = transport.Framer

const (
	// DefaultReadTimeout is the per-message read budget applied when none
	// is supplied to New.
	DefaultReadTimeout = 30 * time.Second

	// DefaultTimeoutStep is how long ReadSome backs off between
	// unproductive polls while ticking down a read budget.
	DefaultTimeoutStep = 100 * time.Microsecond
)

// Transport implements the NETCONF wire framing over a pair of raw,
// non-blocking file descriptors.
type Transport struct {
	conn *rawConn

	*framer
}

// Option configures a Transport constructed with New.
type Option func(*options)

type options struct {
	readTimeout time.Duration
	timeoutStep time.Duration
}

// WithReadTimeout overrides the per-message read budget (default 30s).
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithTimeoutStep overrides the poll backoff step (default 100us).
func WithTimeoutStep(d time.Duration) Option {
	return func(o *options) { o.timeoutStep = d }
}

// New wraps an already-open, bidirectional file descriptor pair (in for
// reads, out for writes -- they may be the same fd) as a NETCONF
// Transport. Both descriptors are switched to non-blocking mode.
func New(in, out *os.File, opts ...Option) (*Transport, error) {
	if err := unix.SetNonblock(int(in.Fd()), true); err != nil {
		return nil, fmt.Errorf("fd: failed to set %s non-blocking: %w", in.Name(), err)
	}
	if out.Fd() != in.Fd() {
		if err := unix.SetNonblock(int(out.Fd()), true); err != nil {
			return nil, fmt.Errorf("fd: failed to set %s non-blocking: %w", out.Name(), err)
		}
	}

	o := options{readTimeout: DefaultReadTimeout, timeoutStep: DefaultTimeoutStep}
	for _, opt := range opts {
		opt(&o)
	}

	conn := &rawConn{in: in, out: out, step: o.timeoutStep}
	r := transport.NewTicker(conn, o.readTimeout, o.timeoutStep)

	return &Transport{
		conn:   conn,
		framer: transport.NewFramer(r, writerFunc(conn.Write)),
	}, nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Close closes both underlying file descriptors (a no-op twice if in == out).
func (t *Transport) Close() error {
	return t.conn.Close()
}

// IsConnected performs a zero-timeout poll of the read descriptor and
// reports false if a hangup or error condition is present. Session.Do
// checks this before every write so a write never raises SIGPIPE against a
// descriptor the peer has already closed.
func (t *Transport) IsConnected() bool {
	return t.conn.IsConnected()
}

// Readable waits up to timeout for a message to become available without
// blocking for the full per-message read budget: any byte already sitting
// in the framer's buffer counts immediately, otherwise the underlying
// descriptor is polled directly via unix.Poll.
func (t *Transport) Readable(timeout time.Duration) (bool, error) {
	if t.framer.Buffered() {
		return true, nil
	}
	return t.conn.Poll(timeout)
}

// rawConn adapts a pair of raw fds to transport.RawConn using non-blocking
// reads/writes and unix.Poll.
type rawConn struct {
	in, out *os.File
	step    time.Duration
}

func (c *rawConn) ReadSome(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(c.in.Fd()), p)
		switch {
		case err == nil && n == 0:
			// A zero-byte, nil-error read from a blocking-style fd means EOF.
			return 0, transport.ErrPeerClosed
		case err == nil:
			return n, nil
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, nil
		case err == unix.EINTR:
			if c.step > 0 {
				time.Sleep(c.step)
			}
			continue
		default:
			return 0, fmt.Errorf("fd: read: %w: %w", transport.ErrTransportBroken, err)
		}
	}
}

func (c *rawConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(int(c.out.Fd()), p[total:])
		switch {
		case err == nil:
			total += n
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			if _, perr := c.poll(int(c.out.Fd()), unix.POLLOUT, -1); perr != nil {
				return total, perr
			}
		case err == unix.EINTR:
			continue
		case err == unix.EPIPE:
			return total, fmt.Errorf("fd: write: %w", transport.ErrWriteClosed)
		default:
			return total, fmt.Errorf("fd: write: %w: %w", transport.ErrTransportBroken, err)
		}
	}
	return total, nil
}

// Poll waits up to timeout (negative blocks indefinitely) for the read
// descriptor to become readable.
func (c *rawConn) Poll(timeout time.Duration) (bool, error) {
	return c.poll(int(c.in.Fd()), unix.POLLIN, timeout)
}

// poll blocks up to timeout waiting for ev on fd, with the calling
// thread's signal mask fully blocked for the duration of the wait and
// restored bitwise on return, per the no-EINTR-at-the-poll-layer guarantee.
func (c *rawConn) poll(fd int, ev int16, timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	var oldMask unix.Sigset_t
	full := fullSigset()
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &full, &oldMask); err != nil {
		return false, fmt.Errorf("fd: poll: failed to mask signals: %w", err)
	}
	defer func() { _ = unix.PthreadSigmask(unix.SIG_SETMASK, &oldMask, nil) }()

	fds := []unix.PollFd{{Fd: int32(fd), Events: ev}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("fd: poll: %w: %w", transport.ErrTransportBroken, err)
	}
	if n == 0 {
		return false, nil
	}

	switch {
	case fds[0].Revents&unix.POLLERR != 0:
		return false, transport.ErrTransportBroken
	case fds[0].Revents&unix.POLLHUP != 0:
		return false, transport.ErrPeerClosed
	case fds[0].Revents&ev != 0:
		return true, nil
	default:
		return false, nil
	}
}

// IsConnected is a zero-timeout poll that treats any hangup/error
// condition as disconnected, and everything else (including "readable",
// including "would block forever") as connected.
func (c *rawConn) IsConnected() bool {
	_, err := c.poll(int(c.in.Fd()), unix.POLLIN, 0)
	return err == nil
}

func (c *rawConn) Close() error {
	inErr := c.in.Close()
	if c.out.Fd() == c.in.Fd() {
		return inErr
	}
	outErr := c.out.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}
