package tls

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/nemith/netconf/transport"
)

// alias it to a private type so we can make it private when embedding
type framer = transport.Framer

// Transport implements RFC7589 for implementing NETCONF over TLS.
type Transport struct {
	conn   *tls.Conn
	closed atomic.Bool
	*framer
}

// Dial will connect to a NETCONF tls port and creates a new Transport.  It's
// used as a convenience function and essentially is the same as:
//
//	c, err := tls.Dial(network, addr, config)
//	if err != nil { /* ... handle error ... */ }
//	t, err := NewTransport(c)
//
// When the transport is closed the underlying connection is also closed.
func Dial(ctx context.Context, network, addr string, config *tls.Config) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(conn, config)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, err
	}

	return NewTransport(tlsConn), nil
}

// NewTransport takes an already connected tls transport and returns a new
// Transport.
func NewTransport(conn *tls.Conn) *Transport {
	return &Transport{
		conn:   conn,
		framer: transport.NewFramer(conn, conn),
	}
}

// Close will close the transport and the underlying TLS connection.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return t.conn.Close()
}

// IsConnected reports whether Close has been called yet. A real
// non-blocking peek at the socket would have to race a zero-deadline Read
// against the framer's own reads on the same net.Conn, risking stealing a
// byte the framer was waiting on; this is a scoped approximation that
// catches the already-closed case without that risk.
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Readable waits up to timeout for a message to become available without
// consuming any bytes. Unlike IsConnected's zero-deadline-read concern,
// this is safe: it peeks through the framer's own bufio.Reader, which
// buffers rather than discards, so it can never steal a byte a subsequent
// MsgReader would otherwise see.
func (t *Transport) Readable(timeout time.Duration) (bool, error) {
	return t.framer.PeekReady(timeout, t.conn.SetReadDeadline)
}
