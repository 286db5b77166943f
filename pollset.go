package netconf

import (
	"context"
	"sync"
	"time"
)

// PollStatus is a bitset describing the outcome of a single PollSet.Poll
// call.
type PollStatus uint32

const (
	// PollTimeout means the poll's timeout elapsed with nothing ready.
	PollTimeout PollStatus = 1 << iota
	// PollRPC means a session delivered a newly-received <rpc> (server side).
	PollRPC
	// PollReply means a session delivered a newly-received <rpc-reply>.
	PollReply
	// PollHello means a session delivered a (late/out-of-order) <hello>.
	PollHello
	// PollNotif means a session delivered a <notification>.
	PollNotif
	// PollPending means the timeout elapsed with nothing delivered while at
	// least one session's poll lock was held by another poller, so that
	// session could not be examined.
	PollPending
	// PollSessionTerm means a session was cleanly invalidated during the poll
	// (e.g. peer sent close-session or hung up).
	PollSessionTerm
	// PollSessionError means a session was invalidated by a transport or
	// framing failure during the poll.
	PollSessionError
	// PollBusy is what a single session check reports when that session's
	// poll lock is held by another poller. Poll does not return it; it
	// reports that case as PollPending once the timeout elapses.
	PollBusy
	// PollError means the poll itself failed outside of any one session
	// (e.g. context canceled).
	PollError
)

// PollSet multiplexes reads across many Sessions sharing one logical
// poller, fairly: concurrent callers to Poll are served in the order they
// arrived, bounded to depth running concurrently. This is the Go
// realization of the framing core's bounded fair FIFO poll-set (spec
// §4.7/§5): waiters join the tail of a FIFO queue, block on a condition
// variable, and are only admitted once they reach the head and a slot is
// free -- no caller is ever rejected, only made to wait its turn.
type PollSet struct {
	depth int

	mu       sync.Mutex
	sessions map[*Session]struct{}

	admitMu sync.Mutex
	cond    *sync.Cond
	active  int
	nextID  uint64
	queue   []uint64
}

// NewPollSet returns a PollSet admitting at most depth callers into Poll
// concurrently (a 0 or negative depth uses DefaultFairQueueDepth). Callers
// beyond depth block in arrival order rather than being rejected.
func NewPollSet(depth int) *PollSet {
	if depth <= 0 {
		depth = DefaultFairQueueDepth
	}
	ps := &PollSet{
		depth:    depth,
		sessions: make(map[*Session]struct{}),
	}
	ps.cond = sync.NewCond(&ps.admitMu)
	return ps
}

// NewPollSetFromConfig is NewPollSet using cfg.FairQueueDepth as the bound,
// for callers that otherwise configure a deployment's knobs through one
// Config value.
func NewPollSetFromConfig(cfg Config) *PollSet {
	return NewPollSet(cfg.FairQueueDepth)
}

// Add registers s with the poll set.
func (ps *PollSet) Add(s *Session) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.sessions[s] = struct{}{}
}

// Remove unregisters s from the poll set. A Poll already examining s
// completes normally.
func (ps *PollSet) Remove(s *Session) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.sessions, s)
}

// Poll waits up to timeout (0 means return immediately, negative means
// block indefinitely) for one registered Session to have a message ready,
// classifies it, and returns the outcome. At most ps.depth callers examine
// sessions at a time; beyond that, callers queue in arrival order and are
// admitted as slots free, per acquire.
func (ps *PollSet) Poll(ctx context.Context, timeout time.Duration) (PollStatus, *Session, error) {
	release, err := ps.acquire(ctx)
	if err != nil {
		return PollError, nil, err
	}
	defer release()

	deadline := time.Now().Add(timeout)

	ps.mu.Lock()
	sessions := make([]*Session, 0, len(ps.sessions))
	for s := range ps.sessions {
		sessions = append(sessions, s)
	}
	ps.mu.Unlock()

	for {
		anyBusy := false
		for _, s := range sessions {
			status, err := s.pollOnce()
			switch {
			case err != nil:
				return PollSessionError, s, err
			case status == PollBusy:
				anyBusy = true
				continue
			case status != 0 && status != PollTimeout:
				return status, s, nil
			}
		}

		select {
		case <-ctx.Done():
			return PollError, nil, ctx.Err()
		default:
		}

		if timeout >= 0 && time.Now().After(deadline) {
			if anyBusy {
				return PollPending, nil, nil
			}
			return PollTimeout, nil, nil
		}

		time.Sleep(time.Millisecond)
	}
}

// acquire blocks the caller until it reaches the head of the FIFO wait
// queue and fewer than ps.depth callers are active, or until ctx is done.
// Waiters join the tail in the order acquire is called and are admitted in
// that same order -- Testable Scenario F's "wakes occur in arrival order"
// guarantee. sync.Mutex has no native FIFO-with-timeout primitive, so a
// sync.Cond plus an explicit ticket slice is the idiomatic substitute for
// the condvar+wait-queue the design calls for.
func (ps *PollSet) acquire(ctx context.Context) (func(), error) {
	ps.admitMu.Lock()

	id := ps.nextID
	ps.nextID++
	ps.queue = append(ps.queue, id)

	// sync.Cond.Wait doesn't know about context cancellation; wake every
	// waiter once ctx is done so each can re-check ctx.Err() and give up.
	stop := context.AfterFunc(ctx, func() {
		ps.admitMu.Lock()
		ps.cond.Broadcast()
		ps.admitMu.Unlock()
	})
	defer stop()

	for {
		if len(ps.queue) > 0 && ps.queue[0] == id && ps.active < ps.depth {
			ps.queue = ps.queue[1:]
			ps.active++
			ps.admitMu.Unlock()
			return ps.release, nil
		}
		if err := ctx.Err(); err != nil {
			ps.removeQueued(id)
			ps.admitMu.Unlock()
			return nil, err
		}
		ps.cond.Wait()
	}
}

// removeQueued drops id from the wait queue. Called with admitMu held, when
// a waiter gives up (context canceled) before reaching the head.
func (ps *PollSet) removeQueued(id uint64) {
	for i, qid := range ps.queue {
		if qid == id {
			ps.queue = append(ps.queue[:i], ps.queue[i+1:]...)
			return
		}
	}
}

// release frees one occupied slot and wakes the rest of the queue so the
// new head can re-check admission.
func (ps *PollSet) release() {
	ps.admitMu.Lock()
	ps.active--
	ps.admitMu.Unlock()
	ps.cond.Broadcast()
}

// pollOnce performs one non-blocking liveness+readability check of s and,
// if a message is ready, reads and classifies it. It never blocks waiting
// for a message; callers loop.
func (s *Session) pollOnce() (PollStatus, error) {
	if !Status(s.status.Load()).readable() {
		return PollSessionTerm, nil
	}

	if !s.tr.IsConnected() {
		s.invalidate(TermDropped)
		return PollSessionTerm, nil
	}

	if !s.pollMu.TryLock() {
		return PollBusy, nil
	}
	defer s.pollMu.Unlock()

	ready, err := s.tr.Readable(0)
	if err != nil {
		s.invalidate(TermOther)
		return PollSessionError, err
	}
	if !ready {
		return PollTimeout, nil
	}

	buf := make([]byte, 4096)
	kind, err := s.recvMsg(buf)
	if err != nil {
		s.invalidate(TermOther)
		return PollSessionError, err
	}

	switch kind {
	case KindRPC:
		return PollRPC, nil
	case KindReply:
		return PollReply, nil
	case KindHello:
		return PollHello, nil
	case KindNotif:
		return PollNotif, nil
	default:
		return PollTimeout, nil
	}
}
