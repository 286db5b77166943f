package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRawConn is a RawConn whose ReadSome behavior is scripted call-by-call,
// for exercising Ticker in isolation from any real file descriptor.
type fakeRawConn struct {
	reads []func(p []byte) (int, error)
	i     int
}

func (f *fakeRawConn) ReadSome(p []byte) (int, error) {
	if f.i >= len(f.reads) {
		return 0, nil
	}
	fn := f.reads[f.i]
	f.i++
	return fn(p)
}

func (f *fakeRawConn) Write(p []byte) (int, error)     { return len(p), nil }
func (f *fakeRawConn) Poll(time.Duration) (bool, error) { return true, nil }
func (f *fakeRawConn) IsConnected() bool               { return true }
func (f *fakeRawConn) Close() error                    { return nil }

func TestTicker_ReadSuccess(t *testing.T) {
	conn := &fakeRawConn{
		reads: []func(p []byte) (int, error){
			func(p []byte) (int, error) { return copy(p, "hello"), nil },
		},
	}
	ticker := NewTicker(conn, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err := ticker.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestTicker_ReadRetriesOnEmptyReads(t *testing.T) {
	conn := &fakeRawConn{
		reads: []func(p []byte) (int, error){
			func(p []byte) (int, error) { return 0, nil },
			func(p []byte) (int, error) { return 0, nil },
			func(p []byte) (int, error) { return copy(p, "ok"), nil },
		},
	}
	ticker := NewTicker(conn, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err := ticker.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
	assert.Equal(t, 3, conn.i)
}

func TestTicker_ReadTimesOut(t *testing.T) {
	conn := &fakeRawConn{} // always returns (0, nil)
	ticker := NewTicker(conn, 5*time.Millisecond, time.Millisecond)

	buf := make([]byte, 16)
	_, err := ticker.Read(buf)
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestTicker_ReadPropagatesConnError(t *testing.T) {
	conn := &fakeRawConn{
		reads: []func(p []byte) (int, error){
			func(p []byte) (int, error) { return 0, ErrPeerClosed },
		},
	}
	ticker := NewTicker(conn, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	_, err := ticker.Read(buf)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestNewTicker_DefaultStep(t *testing.T) {
	conn := &fakeRawConn{}
	ticker := NewTicker(conn, time.Second, 0)
	assert.Equal(t, 100*time.Microsecond, ticker.step)
}
