package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nemith/netconf/transport"
)

const (
	NetconfNamespace      = "urn:ietf:params:xml:ns:netconf:base:1.0"
	NotificationNamespace = "urn:ietf:params:xml:ns:netconf:notification:1.0"
)

var ErrClosed = errors.New("closed connection")

// ErrInvalidated is returned by any operation attempted against a Session
// that has already moved to StatusInvalid.
var ErrInvalidated = errors.New("netconf: session invalidated")

// ErrNoServerHello is returned by Accept when the peer's hello capability
// set does not overlap with the server's own at all.
var ErrNoServerHello = errors.New("netconf: no common capabilities with peer")

type sessionConfig struct {
	clientCaps []string
	sibling    *SharedLock
	endpoint   *Endpoint
	cfg        Config
}

type SessionOption interface {
	apply(*sessionConfig)
}

type capabilityOpt []string

func (o capabilityOpt) apply(cfg *sessionConfig) {
	cfg.clientCaps = []string(o)
}

func WithCapability(capabilities ...string) SessionOption {
	return capabilityOpt(capabilities)
}

type sharedLockOpt struct{ lock *SharedLock }

func (o sharedLockOpt) apply(cfg *sessionConfig) { cfg.sibling = o.lock }

// WithSharedLock attaches lock to the Session being constructed, to be
// acquired around every transport read/write. Pass the same *SharedLock to
// every Session multiplexed over one underlying SSH connection (distinct
// channels sharing one ssh.Client) so their I/O is serialized at the
// connection level.
func WithSharedLock(lock *SharedLock) SessionOption {
	return sharedLockOpt{lock: lock}
}

type endpointOpt struct{ endpoint *Endpoint }

func (o endpointOpt) apply(cfg *sessionConfig) { cfg.endpoint = o.endpoint }

// WithEndpoint attaches e to the Session being constructed: once the
// handshake completes, the session is tracked under e (via Endpoint.Track)
// and untracked again on Kill/Close/an unexpected recvLoop exit.
func WithEndpoint(e *Endpoint) SessionOption {
	return endpointOpt{endpoint: e}
}

type configOpt struct{ cfg Config }

func (o configOpt) apply(cfg *sessionConfig) { cfg.cfg = o.cfg }

// WithConfig attaches cfg's knobs (read/hello/idle timeouts, fair-queue
// depth, negotiable version range) to the Session being constructed.
// Without WithConfig, NewConfig's defaults apply.
func WithConfig(cfg Config) SessionOption {
	return configOpt{cfg: cfg}
}

// Session is represents a netconf session to a one given device.
type Session struct {
	tr        transport.Transport
	sessionID uint64
	seq       atomic.Uint64

	// sibling, when non-nil, is acquired around every transport read/write
	// -- see WithSharedLock.
	sibling *SharedLock

	// endpoint, when non-nil, tracks this session's lifecycle -- see
	// WithEndpoint.
	endpoint *Endpoint

	cfg          Config
	lastActivity atomic.Int64

	side    Side
	status  atomic.Int32
	term    atomic.Int32
	version Version

	clientCaps CapabilitySet
	serverCaps CapabilitySet

	mu      sync.Mutex
	reqs    map[string]*pendingReq
	closing bool

	notifyMu sync.Mutex
	notifyCh chan *Response

	requestMu sync.Mutex
	requestCh chan *Response

	// pollMu guards a session against concurrent PollSet workers racing to
	// read the same transport; it is distinct from the Framer's own
	// activeReader/activeWriter bookkeeping, which guards a single
	// io.ReadCloser/io.WriteCloser instance against reentry rather than
	// concurrent acquisition attempts.
	pollMu sync.Mutex
}

func newSession(side Side, tr transport.Transport, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		clientCaps: DefaultCapabilities,
		cfg:        NewConfig(),
	}

	for _, opt := range opts {
		opt.apply(&cfg)
	}

	s := &Session{
		tr:         tr,
		side:       side,
		sibling:    cfg.sibling,
		endpoint:   cfg.endpoint,
		cfg:        cfg.cfg,
		clientCaps: NewCapabilitySet(cfg.clientCaps...),
		reqs:       make(map[string]*pendingReq),
	}
	s.status.Store(int32(StatusStarting))
	s.touch()
	return s
}

// touch records the current time as the most recent RPC activity on the
// session, for idleMonitor to compare IdleTimeout against.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// idleMonitor closes a server-side session that has gone more than
// s.cfg.IdleTimeout since its last RPC exchange. Launched by Accept only
// when IdleTimeout is non-zero.
func (s *Session) idleMonitor() {
	interval := s.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !Status(s.status.Load()).readable() {
			return
		}
		if time.Since(time.Unix(0, s.lastActivity.Load())) >= s.cfg.IdleTimeout {
			_ = s.Kill()
			return
		}
	}
}

// untrackFromEndpoint removes the session from its Endpoint's bookkeeping,
// if it was constructed with WithEndpoint. Safe to call more than once.
func (s *Session) untrackFromEndpoint() {
	if s.endpoint != nil {
		s.endpoint.Untrack(s)
	}
}

// lockTransport acquires the sibling shared lock, if any, for the duration
// of one transport read or write.
func (s *Session) lockTransport() {
	if s.sibling != nil {
		s.sibling.Lock()
	}
}

func (s *Session) unlockTransport() {
	if s.sibling != nil {
		s.sibling.Unlock()
	}
}

// Status reports the Session's current lifecycle state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// TermReason reports why the Session moved to StatusInvalid. It is
// TermNone until then.
func (s *Session) TermReason() TermReason {
	return TermReason(s.term.Load())
}

// Side reports whether the Session is acting as a client or a server.
func (s *Session) Side() Side {
	return s.side
}

// Version reports the negotiated framing dialect. It is only meaningful
// once Status has advanced past StatusStarting.
func (s *Session) Version() Version {
	return s.version
}

// invalidate moves the Session to StatusInvalid. The first reason recorded
// wins; later calls leave it unchanged.
func (s *Session) invalidate(reason TermReason) {
	s.term.CompareAndSwap(int32(TermNone), int32(reason))
	s.status.Store(int32(StatusInvalid))
}

// Kill immediately invalidates the Session and tears down its transport
// without attempting a graceful close-session exchange. Use this when the
// peer is known to be unresponsive; Close is preferred otherwise.
func (s *Session) Kill() error {
	s.invalidate(TermKilled)

	s.mu.Lock()
	for _, req := range s.reqs {
		close(req.reply)
	}
	s.reqs = make(map[string]*pendingReq)
	s.mu.Unlock()

	s.untrackFromEndpoint()

	return s.tr.Close()
}

// withHelloTimeout runs fn, aborting the underlying transport and
// returning an error if it hasn't completed within s.cfg.HelloTimeout. A
// zero HelloTimeout (the NewConfig default is 30s, but a caller-supplied
// Config may opt out) disables the bound entirely.
func (s *Session) withHelloTimeout(fn func() error) error {
	if s.cfg.HelloTimeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(s.cfg.HelloTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = s.tr.Close()
		return fmt.Errorf("netconf: hello exchange exceeded %s", s.cfg.HelloTimeout)
	}
}

// Open will create a new Session with th=e given transport and open it with the
// necessary hello messages.
func Open(tr transport.Transport, opts ...SessionOption) (*Session, error) {
	s := newSession(SideClient, tr, opts...)

	if err := s.withHelloTimeout(s.handshake); err != nil {
		s.invalidate(TermOther)
		s.tr.Close() // nolint:errcheck // TODO: catch and log err
		return nil, err
	}

	s.status.Store(int32(StatusRunning))
	s.touch()
	go s.recvLoop()
	return s, nil
}

// Accept performs the server side of the hello handshake over an
// already-open transport (e.g. one handed off by a SSH subsystem request
// or an accepted TLS listener connection) and returns a running Session.
// Pass WithCapability to control the capabilities advertised in the
// server's own hello (DefaultCapabilities otherwise); sessionID is
// assigned by the caller, which owns the process-wide session-id space.
func Accept(tr transport.Transport, sessionID uint64, opts ...SessionOption) (*Session, error) {
	s := newSession(SideServer, tr, opts...)
	s.sessionID = sessionID

	if err := s.withHelloTimeout(s.serverHandshake); err != nil {
		s.invalidate(TermOther)
		s.tr.Close() // nolint:errcheck
		return nil, err
	}

	s.status.Store(int32(StatusRunning))
	s.touch()
	if s.endpoint != nil {
		s.endpoint.Track(s)
	}
	if s.cfg.IdleTimeout > 0 {
		go s.idleMonitor()
	}
	go s.recvLoop()
	return s, nil
}

// serverHandshake sends the server's hello (with the assigned session-id)
// first, then waits for the client's hello in reply, per RFC6241 sec 8.1
// (the server speaks first for a server-initiated transport like SSH's
// netconf subsystem).
func (s *Session) serverHandshake() error {
	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get hello message writer: %w", err)
	}
	serverMsg := HelloMsg{
		SessionID:    s.sessionID,
		Capabilities: slices.Collect(s.clientCaps.All()),
	}
	if err := writeHello(w, &serverMsg); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write hello message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close hello message writer: %w", err)
	}

	r, err := s.tr.MsgReader()
	if err != nil {
		return fmt.Errorf("failed to get hello message reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	var clientMsg HelloMsg
	if err := xml.NewDecoder(r).Decode(&clientMsg); err != nil {
		return fmt.Errorf("failed to read client hello message: %w", err)
	}
	if len(clientMsg.Capabilities) == 0 {
		return fmt.Errorf("client did not return any capabilities")
	}
	if !slices.ContainsFunc(clientMsg.Capabilities, s.clientCaps.Has) {
		return ErrNoServerHello
	}

	s.serverCaps = NewCapabilitySet(clientMsg.Capabilities...)
	s.negotiateVersion()

	return nil
}

// negotiateVersion picks the framing dialect both peers advertised
// base:1.1 for, bounded by s.cfg.MinVersion/MaxVersion, and upgrades the
// transport's framer if it picked Version1_1.
func (s *Session) negotiateVersion() {
	both11 := s.serverCaps.Has(CapNetConf11) && s.clientCaps.Has(CapNetConf11)
	allowed11 := s.cfg.MaxVersion >= Version1_1 && s.cfg.MinVersion <= Version1_1

	if both11 && allowed11 {
		s.version = Version1_1
		if upgrader, ok := s.tr.(interface{ Upgrade() }); ok {
			upgrader.Upgrade()
		}
	} else {
		s.version = Version1_0
	}
}

// handshake exchanges handshake messages and reports if there are any errors.
func (s *Session) handshake() error {
	clientMsg := HelloMsg{
		Capabilities: slices.Collect(s.clientCaps.All()),
	}

	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get hello message writer: %w", err)
	}
	defer func() {
		// TODO: expose this error
		_ = w.Close()
	}()

	if err := writeHello(w, &clientMsg); err != nil {
		return fmt.Errorf("failed to write hello message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close hello message writer: %w", err)
	}

	r, err := s.tr.MsgReader()
	if err != nil {
		return fmt.Errorf("failed to get hello message reader: %w", err)
	}
	defer func() {
		// TODO: expose this error
		_ = r.Close()
	}()

	var serverMsg HelloMsg
	if err := xml.NewDecoder(r).Decode(&serverMsg); err != nil {
		return fmt.Errorf("failed to read server hello message: %w", err)
	}

	if serverMsg.SessionID == 0 {
		return fmt.Errorf("server did not return a session-id")
	}

	if len(serverMsg.Capabilities) == 0 {
		return fmt.Errorf("server did not return any capabilities")
	}

	s.serverCaps = NewCapabilitySet(serverMsg.Capabilities...)
	s.sessionID = serverMsg.SessionID
	s.negotiateVersion()

	return nil
}

// SessionID returns the current session ID exchanged in the hello messages.
// Will return 0 if there is no session ID.
func (s *Session) SessionID() uint64 {
	return s.sessionID
}

// ClientCaps will return the capabilities initialized with the session.
func (s *Session) ClientCaps() *CapabilitySet {
	return &s.clientCaps
}

// ServerCaps will return the capabilities returned by the server in
// it's hello message.
func (s *Session) ServerCaps() *CapabilitySet {
	return &s.serverCaps
}

// Notifications returns a channel on which asynchronous <notification>
// messages are delivered as they arrive. The channel is buffered; a slow
// consumer that lets it fill will cause subsequent notifications to be
// dropped with a log message rather than stalling the receive loop.
// Subsequent calls return the same channel. The caller must call Close on
// each delivered Response as with any other Response.
func (s *Session) Notifications() <-chan *Response {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyCh == nil {
		s.notifyCh = make(chan *Response, 16)
	}
	return s.notifyCh
}

// Requests returns a channel on which incoming <rpc> envelopes are
// delivered to a server-side Session (one built with Accept). Each
// delivered Response's Attributes and MessageID carry the rpc envelope's
// own attributes and message-id, which the handler must reflect back via
// writeReply per RFC6241 sec 7.3. Calling this on a client-side Session
// has no effect; clients never receive <rpc>.
func (s *Session) Requests() <-chan *Response {
	s.requestMu.Lock()
	defer s.requestMu.Unlock()
	if s.requestCh == nil {
		s.requestCh = make(chan *Response, 16)
	}
	return s.requestCh
}

// startElement will walk though a xml.Decode until it finds a start element
// and returns it.
func startElement(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}

		if start, ok := tok.(xml.StartElement); ok {
			return &start, nil
		}
	}
}

type pendingReq struct {
	reply chan *Response
	ctx   context.Context
}

type replyReader struct {
	io.Reader
	closer io.Closer

	done chan struct{}
	once sync.Once
}

func (r *replyReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.closer.Close()
		close(r.done)
	})
	return err
}

// recvLoop is the main receive loop.  It runs concurrently to be able to handle
// interleaved messages (like notifications).
func (s *Session) recvLoop() {
	// buffer used to "peel" into the message enough to read the first element
	// (i.e <rpc-reply> or <notification>)
	buf := make([]byte, 4096)
	var recvErr error
	for {
		if _, err := s.recvMsg(buf); err != nil {
			log.Printf("netconf: failed to receive message: %v", err)
			recvErr = err
			break
		}
	}

	// Final cleanup when the loop exits
	s.mu.Lock()
	for _, req := range s.reqs {
		close(req.reply)
	}
	s.mu.Unlock()
	// TODO: expose this error
	_ = s.tr.Close()
	s.untrackFromEndpoint()

	if !s.closing {
		log.Printf("netconf: connection closed unexpectedly")
		if errors.Is(recvErr, transport.ErrReadTimeout) {
			s.invalidate(TermOther)
		} else {
			s.invalidate(TermDropped)
		}
	} else {
		s.invalidate(TermClosed)
	}
}

func getMessageID(attrs []xml.Attr) string {
	for _, attr := range attrs {
		if attr.Name.Local == "message-id" {
			return attr.Value
		}
	}
	return ""
}

// recvMsg reads and dispatches one message, returning the Kind it
// classified as (best-effort -- KindNone on any error before
// classification) so callers like PollSet.Poll can report a precise
// PollStatus without re-parsing.
func (s *Session) recvMsg(buf []byte) (Kind, error) {
	s.lockTransport()
	defer s.unlockTransport()

	r, err := s.tr.MsgReader()
	if err != nil {
		return KindNone, err
	}
	defer func() {
		// TODO: expose this error
		_ = r.Close()
	}()

	// 3. Peek/Read the start of the message
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		// io.EOF is not an error here: it only means the whole message fit
		// in buf, and startElement below parses what was read.
		return KindNone, err
	}

	chunk := buf[:n]
	decoder := xml.NewDecoder(bytes.NewReader(chunk))

	startElem, err := startElement(decoder)
	if err != nil {
		return KindNone, fmt.Errorf("failed to parse message start: %w", err)
	}

	msgReader := io.MultiReader(bytes.NewReader(chunk), r)
	kind := Classify(startElem.Name)
	s.touch()

	switch kind {
	case KindRPC:
		if s.side != SideServer {
			return kind, fmt.Errorf("netconf: unexpected <rpc> received by a client session")
		}

		msgID := getMessageID(startElem.Attr)

		s.requestMu.Lock()
		ch := s.requestCh
		s.requestMu.Unlock()

		if ch == nil {
			w, werr := s.tr.MsgWriter()
			if werr != nil {
				return kind, werr
			}
			defer func() { _ = w.Close() }()
			return kind, writeReply(w, msgID, nil, ErrorReply(RPCError{
				Type:     ErrTypeApp,
				Tag:      ErrOperationFailed,
				Severity: SevError,
				Message:  "no request handler registered",
			}))
		}

		readDone := make(chan struct{})
		resp := &Response{
			ReadCloser: &replyReader{Reader: msgReader, closer: r, done: readDone},
			MessageID:  msgID,
			Attributes: startElem.Attr,
		}
		select {
		case ch <- resp:
			<-readDone
		default:
			log.Printf("netconf: request channel full; dropping rpc message-id %s", msgID)
			_ = resp.Close()
		}
		return kind, nil

	case KindNotif:
		s.notifyMu.Lock()
		ch := s.notifyCh
		s.notifyMu.Unlock()

		if ch == nil {
			log.Printf("netconf: received notification with no listener; dropping")
			return kind, nil
		}

		readDone := make(chan struct{})
		resp := &Response{
			ReadCloser: &replyReader{Reader: msgReader, closer: r, done: readDone},
			Attributes: startElem.Attr,
		}
		select {
		case ch <- resp:
			<-readDone
		default:
			log.Printf("netconf: notification channel full; dropping notification")
			_ = resp.Close()
		}
		return kind, nil

	case KindReply:
		msgID := getMessageID(startElem.Attr)
		if msgID == "" {
			log.Printf("netconf: rpc-reply missing message-id")
			return kind, nil // Continue loop
		}

		s.mu.Lock()
		req, ok := s.reqs[msgID]
		delete(s.reqs, msgID)
		s.mu.Unlock()

		if !ok {
			log.Printf("netconf: unexpected rpc-reply with message-id %s (possible timeout?)", msgID)
			return kind, nil // Continue loop
		}

		readDone := make(chan struct{})
		reader := &replyReader{
			Reader: msgReader,
			closer: r, // The raw transport reader
			done:   readDone,
		}

		select {
		case req.reply <- &Response{
			ReadCloser: reader,
			MessageID:  msgID,
			Attributes: startElem.Attr,
		}:
			// We wait for the user to call Close() on the replyReader.
			<-readDone
			return kind, nil

		case <-req.ctx.Done():
			return kind, nil
		}

	default:
		// An unrecognized top-level element is a classification error: the
		// session always terminates. A Version1_1 server has an rpc-error
		// reply channel available and uses it; every other case (a
		// Version1_0 server, or a client of either version) has nowhere to
		// send a reply and marks the session invalid silently.
		detail := fmt.Sprintf("unrecognized top-level element %q", startElem.Name.Local)
		defer s.invalidate(TermOther)

		if s.side == SideServer && s.version == Version1_1 {
			w, werr := s.tr.MsgWriter()
			if werr != nil {
				return kind, fmt.Errorf("netconf: unknown message type %s and failed to reply: %w", startElem.Name.Local, werr)
			}
			if err := writeMalformedReply(w, detail); err != nil {
				_ = w.Close()
				return kind, fmt.Errorf("failed to write malformed-message reply: %w", err)
			}
			if err := w.Close(); err != nil {
				return kind, err
			}
		}
		return kind, fmt.Errorf("netconf: %s", detail)
	}
}

// Do issues a rpc message for the given Request.  This is a low-level method
// that doesn't try to decode the response including any rpc-errors.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	if !Status(s.status.Load()).readable() {
		return nil, ErrInvalidated
	}
	if !s.tr.IsConnected() {
		s.invalidate(TermDropped)
		return nil, ErrInvalidated
	}

	s.touch()

	msgID := strconv.FormatUint(s.seq.Add(1), 10)
	req.RPC.MessageID = msgID

	// Setup channel
	ch := make(chan *Response, 1)
	s.mu.Lock()
	s.reqs[msgID] = &pendingReq{
		reply: ch,
		ctx:   ctx,
	}
	s.mu.Unlock()

	// Cleanup if context triggers before send/recv
	defer func() {
		s.mu.Lock()
		delete(s.reqs, msgID)
		s.mu.Unlock()
	}()

	s.lockTransport()
	w, err := s.tr.MsgWriter()
	if err != nil {
		s.unlockTransport()
		return nil, fmt.Errorf("failed to get message writer: %w", err)
	}
	if err := writeRPC(w, &req.RPC); err != nil {
		_ = w.Close() // try to close anyway
		s.unlockTransport()
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	err = w.Close()
	s.unlockTransport()
	if err != nil {
		return nil, fmt.Errorf("failed to flush request: %w", err)
	}

	// Wait for the response
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exec issues a rpc message with `req` as the body and decodes the response into
// a pointer at `resp`.  Resp must include the full <rpc-reply> structure.
func (s *Session) Exec(ctx context.Context, operation any, reply any) error {
	req := Request{RPC: RPC{Operation: operation}}

	resp, err := s.Do(ctx, &req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Close()
	}()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	var rpcReply RPCReply
	if err := xml.Unmarshal(raw, &rpcReply); err != nil {
		return fmt.Errorf("failed to parse rpc-reply: %w", err)
	}
	// filter out warnings
	rpcErrors := rpcReply.RPCErrors.Filter(SevError)
	if len(rpcErrors) > 0 {
		return rpcErrors
	}

	if reply != nil {
		if err := xml.Unmarshal(raw, reply); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Close will gracefully close the sessions first by sending a `close-session`
// operation to the remote and then closing the underlying transport
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	type closeSession struct {
		XMLName xml.Name `xml:"close-session"`
	}

	// This may fail so save the error but still close the underlying transport.
	req := NewRequest(&closeSession{})
	resp, _ := s.Do(ctx, req)
	if resp != nil {
		_ = resp.Close()
	}
	s.status.Store(int32(StatusClosing))

	// Close the connection and ignore errors if the remote side hung up first.
	if err := s.tr.Close(); err != nil &&
		!errors.Is(err, net.ErrClosed) &&
		!errors.Is(err, io.EOF) &&
		!errors.Is(err, syscall.EPIPE) {
		s.invalidate(TermOther)
		return err
	}

	s.invalidate(TermClosed)
	return nil
}
