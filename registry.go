package netconf

import "sync"

// Endpoint is a single listening address a server-side deployment accepts
// connections on (e.g. one SSH subsystem listener or one TLS listener),
// tracked so a process hosting several of them can report and tear them
// down uniformly.
type Endpoint struct {
	Name string
	Addr string

	mu       sync.Mutex
	sessions map[uint64]*Session
}

func newEndpoint(name, addr string) *Endpoint {
	return &Endpoint{Name: name, Addr: addr, sessions: make(map[uint64]*Session)}
}

// Track registers s as belonging to this endpoint.
func (e *Endpoint) Track(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[s.SessionID()] = s
}

// Untrack removes s from this endpoint's bookkeeping.
func (e *Endpoint) Untrack(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, s.SessionID())
}

// Sessions returns a snapshot of the sessions currently tracked under this
// endpoint.
func (e *Endpoint) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Registry tracks the set of endpoints a NETCONF server process is
// currently listening on. Endpoint addition/removal takes the registry's
// write lock and lookups take its read lock. Session tracking within one
// endpoint takes only that endpoint's own mutex, not the registry lock, so
// concurrent session churn on different endpoints never contends on the
// same lock.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// AddEndpoint registers a new named endpoint and returns it.
func (r *Registry) AddEndpoint(name, addr string) *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := newEndpoint(name, addr)
	r.endpoints[name] = e
	return e
}

// RemoveEndpoint unregisters the named endpoint.
func (r *Registry) RemoveEndpoint(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
}

// Endpoint looks up a previously-added endpoint by name.
func (r *Registry) Endpoint(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[name]
	return e, ok
}

// Endpoints returns a snapshot of all currently-registered endpoints.
func (r *Registry) Endpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e)
	}
	return out
}
