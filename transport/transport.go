package transport

import (
	"bytes"
	"errors"
	"io"
	"time"
)

var (
	// ErrInvalidIO is returned when a write or read operation is called on
	// message io.Reader or a message io.Writer when they are no longer valid.
	// (i.e a new reader or writer has been obtained)
	ErrInvalidIO = errors.New("netconf: read/write on invalid io")
)

// Transport is used for a netconf.Session to talk to the device. It is message
// oriented to allow for framing and other details to happen on a per message
// basis.
type Transport interface {
	// MsgReader returns a reader for the next message.
	// The caller must close the reader when done.
	MsgReader() (io.ReadCloser, error)

	// MsgWriter returns a writer for a new message. Closing it will finalize
	// the message framing and flush to the underlying transport.
	MsgWriter() (io.WriteCloser, error)

	// IsConnected performs a non-blocking liveness check of the
	// underlying connection. A Session checks this before every write so
	// that a write is never attempted against a peer that has already
	// gone away.
	IsConnected() bool

	// Readable waits up to timeout for a message to become available to
	// read without consuming it, returning false rather than blocking
	// past timeout if none arrives. A poll-set probes this before
	// attempting MsgReader so one idle session never stalls examination
	// of the rest of the set for MsgReader's full read-timeout budget.
	Readable(timeout time.Duration) (bool, error)

	Close() error
}

// TestTransport mocks the underlying NETCONF transport layer.
// It allows us to queue up "Server Responses" and inspect "Client Requests".
type TestTransport struct {
	// inputs is a queue of messages the Server "sends" to the Client.
	// The Session calls MsgReader() to pop from this queue.
	inputs [][]byte

	// outputs captures messages the Client "sends" to the Server.
	// The Session calls MsgWriter() to append to this list.
	outputs [][]byte
}

type readNoopCloser struct{ io.Reader }

func (r readNoopCloser) Close() error { return nil }

type testWriter struct {
	tt  *TestTransport
	buf *bytes.Buffer
}

func (w *testWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *testWriter) Close() error {
	w.tt.outputs = append(w.tt.outputs, w.buf.Bytes())
	return nil
}

func (t *TestTransport) MsgReader() (io.ReadCloser, error) {
	if len(t.inputs) == 0 {
		return nil, io.EOF
	}

	msg := t.inputs[0]
	t.inputs = t.inputs[1:]
	return readNoopCloser{bytes.NewReader(msg)}, nil
}

func (t *TestTransport) MsgWriter() (io.WriteCloser, error) {
	return &testWriter{tt: t, buf: &bytes.Buffer{}}, nil
}

func (t *TestTransport) Close() error { return nil }

// IsConnected always reports true; TestTransport has no real connection to
// go dead underneath it.
func (t *TestTransport) IsConnected() bool { return true }

// Readable reports whether a queued response is available immediately;
// TestTransport has no real I/O to wait on, so it never blocks.
func (t *TestTransport) Readable(time.Duration) (bool, error) {
	return len(t.inputs) > 0, nil
}

// Helper to push a server response into the read queue
func (t *TestTransport) AddResponse(body string) {
	t.inputs = append(t.inputs, []byte(body))
}
