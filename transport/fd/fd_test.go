package fd

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (a, b *Transport) {
	t.Helper()

	ar, bw, err := os.Pipe()
	require.NoError(t, err)
	br, aw, err := os.Pipe()
	require.NoError(t, err)

	a, err = New(ar, aw, WithReadTimeout(time.Second))
	require.NoError(t, err)
	b, err = New(br, bw, WithReadTimeout(time.Second))
	require.NoError(t, err)

	return a, b
}

func TestTransport_RoundTrip(t *testing.T) {
	a, b := pipePair(t)
	defer a.Close()
	defer b.Close()

	w, err := a.MsgWriter()
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := b.MsgReader()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestTransport_ReadTimeout(t *testing.T) {
	ar, aw, err := os.Pipe()
	require.NoError(t, err)
	defer aw.Close()

	a, err := New(ar, aw, WithReadTimeout(20*time.Millisecond), WithTimeoutStep(time.Millisecond))
	require.NoError(t, err)
	defer a.Close()

	r, err := a.MsgReader()
	require.NoError(t, err)

	start := time.Now()
	_, err = io.ReadAll(r)
	assert.ErrorContains(t, err, "read timed out")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestTransport_PeerClosed(t *testing.T) {
	ar, bw, err := os.Pipe()
	require.NoError(t, err)
	_, aw, err := os.Pipe()
	require.NoError(t, err)

	a, err := New(ar, aw, WithReadTimeout(time.Second))
	require.NoError(t, err)
	defer a.Close()

	// Closing the far end's write descriptor simulates the peer hanging up.
	require.NoError(t, bw.Close())

	r, err := a.MsgReader()
	require.NoError(t, err)

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTransport_IsConnected(t *testing.T) {
	a, b := pipePair(t)
	defer a.Close()

	assert.True(t, a.IsConnected())
	require.NoError(t, b.Close())
}
