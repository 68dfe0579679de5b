package transport

import (
	"sync"

	"github.com/felixgeelhaar/mcpmux/middleware"
)

// Registry tracks live sessions in one partition per Kind. Ids carry no
// meaning across kinds. Stdio sessions are never registered.
type Registry struct {
	mu    sync.RWMutex
	parts map[Kind]map[string]Conn

	metrics *Metrics
	logger  middleware.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics records session gauges and counters in m.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger logs session registration and removal.
func WithRegistryLogger(l middleware.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		parts:  make(map[Kind]map[string]Conn),
		logger: middleware.NopLogger{},
	}
	for _, k := range Kinds {
		r.parts[k] = make(map[string]Conn)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c to its kind's partition. A live session with the same
// id is never overwritten: Register returns ErrSessionExists instead.
func (r *Registry) Register(c Conn) error {
	if isClosed(c) {
		return ErrSessionClosed
	}

	r.mu.Lock()
	part, ok := r.parts[c.Kind()]
	if !ok {
		r.mu.Unlock()
		return ErrUnregisteredKind
	}
	existing, replaced := part[c.ID()]
	if replaced && !isClosed(existing) {
		r.mu.Unlock()
		return ErrSessionExists
	}
	part[c.ID()] = c
	r.mu.Unlock()

	if replaced {
		// closed entry whose watcher had not run yet
		r.removed(existing)
	}
	r.metrics.sessionOpened(c.Kind())
	r.logger.Info("session registered", middleware.F("session_id", c.ID()), middleware.F("transport", string(c.Kind())))
	return nil
}

// Lookup returns the live session for (kind, id). Closed sessions awaiting
// removal are reported absent.
func (r *Registry) Lookup(kind Kind, id string) (Conn, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	c, ok := r.parts[kind][id]
	r.mu.RUnlock()
	if !ok || isClosed(c) {
		return nil, false
	}
	return c, true
}

// Remove deletes (kind, id). It reports whether an entry was removed;
// removing an absent key is a no-op.
func (r *Registry) Remove(kind Kind, id string) bool {
	r.mu.Lock()
	c, ok := r.parts[kind][id]
	if ok {
		delete(r.parts[kind], id)
	}
	r.mu.Unlock()

	if ok {
		r.removed(c)
	}
	return ok
}

// removeExact deletes c only if it is still the entry under its id.
func (r *Registry) removeExact(c Conn) bool {
	r.mu.Lock()
	cur, ok := r.parts[c.Kind()][c.ID()]
	if ok && cur == c {
		delete(r.parts[c.Kind()], c.ID())
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.removed(c)
	}
	return ok
}

func (r *Registry) removed(c Conn) {
	r.metrics.sessionClosed(c.Kind())
	r.logger.Info("session removed", middleware.F("session_id", c.ID()), middleware.F("transport", string(c.Kind())))
}

// Watch removes c from the registry once its Done channel closes.
func (r *Registry) Watch(c Conn) {
	go func() {
		<-c.Done()
		r.removeExact(c)
	}()
}

// Len returns the number of entries of kind, including closed sessions
// whose removal is still pending.
func (r *Registry) Len(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parts[kind])
}

// Counts returns the number of live sessions per kind.
func (r *Registry) Counts() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Kind]int, len(r.parts))
	for kind, part := range r.parts {
		n := 0
		for _, c := range part {
			if !isClosed(c) {
				n++
			}
		}
		out[kind] = n
	}
	return out
}

// Snapshot returns the live sessions of kind.
func (r *Registry) Snapshot(kind Kind) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.parts[kind]))
	for _, c := range r.parts[kind] {
		if !isClosed(c) {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes every session and then drops whatever entries remain.
func (r *Registry) CloseAll() {
	var all []Conn
	r.mu.RLock()
	for _, part := range r.parts {
		for _, c := range part {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		_ = c.Close()
	}
	for _, c := range all {
		r.removeExact(c)
	}
}
