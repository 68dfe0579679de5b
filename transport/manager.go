package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
)

const mintAttempts = 3

// BuildFunc wraps a freshly created Session in its adapter connection.
type BuildFunc func(s *Session) Conn

// SessionManager decides when sessions are created, mints their ids and
// evicts idle streaming-HTTP sessions.
type SessionManager struct {
	registry *Registry
	handler  Handler
	logger   middleware.Logger
	metrics  *Metrics

	idleTTL       time.Duration
	sweepInterval time.Duration
	newID         func() string
	now           func() time.Time
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithIdleTTL sets how long a streaming-HTTP session may go without a
// request before Sweep closes it. Zero disables eviction.
func WithIdleTTL(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.idleTTL = d }
}

// WithSweepInterval sets how often Run calls Sweep.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *SessionManager) { m.sweepInterval = d }
}

// WithIDGenerator replaces the uuid id source.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *SessionManager) { m.newID = fn }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l middleware.Logger) ManagerOption {
	return func(m *SessionManager) { m.logger = l }
}

// WithManagerMetrics records evictions in metrics.
func WithManagerMetrics(mt *Metrics) ManagerOption {
	return func(m *SessionManager) { m.metrics = mt }
}

// NewSessionManager binds sessions created through it to handler.
func NewSessionManager(registry *Registry, handler Handler, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		registry:      registry,
		handler:       handler,
		logger:        middleware.NopLogger{},
		idleTTL:       30 * time.Minute,
		sweepInterval: time.Minute,
		newID:         uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the registry sessions are recorded in.
func (m *SessionManager) Registry() *Registry {
	return m.registry
}

// ResolveOrCreate implements the streaming-HTTP session decision. A present
// id that resolves returns the existing session. An absent id with an
// initialize request creates a new one. Anything else is ErrInvalidSession
// and leaves the registry untouched.
func (m *SessionManager) ResolveOrCreate(sessionID string, req *protocol.Request, build BuildFunc) (Conn, bool, error) {
	if sessionID != "" {
		if c, ok := m.registry.Lookup(KindStreamable, sessionID); ok {
			return c, false, nil
		}
		return nil, false, ErrInvalidSession
	}
	if !protocol.IsInitializeRequest(req) {
		return nil, false, ErrInvalidSession
	}
	c, err := m.Open(KindStreamable, build)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Open unconditionally creates and registers a session of kind. The id is
// re-minted if it collides with a live session.
func (m *SessionManager) Open(kind Kind, build BuildFunc) (Conn, error) {
	var lastErr error
	for attempt := 0; attempt < mintAttempts; attempt++ {
		s := newSession(m.newID(), kind, m.handler)
		c := build(s)

		err := m.registry.Register(c)
		if err == nil {
			m.registry.Watch(c)
			return c, nil
		}
		_ = c.Close()
		if !errors.Is(err, ErrSessionExists) {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("session id collision", middleware.F("session_id", s.ID()), middleware.F("transport", string(kind)))
	}
	return nil, fmt.Errorf("open %s session after %d attempts: %w", kind, mintAttempts, lastErr)
}

// Sweep closes streaming-HTTP sessions idle for longer than the TTL and
// returns how many were closed. Sessions with a request in flight or an open
// stream are never idle. Other kinds end with their connection.
func (m *SessionManager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	n := 0
	for _, c := range m.registry.Snapshot(KindStreamable) {
		seen, ok := c.(interface{ LastSeen() time.Time })
		if !ok || now.Sub(seen.LastSeen()) <= m.idleTTL {
			continue
		}
		if busy, ok := c.(interface{ Busy() bool }); ok && busy.Busy() {
			continue
		}
		_ = c.Close()
		n++
		m.metrics.sessionEvicted()
		m.logger.Info("session evicted",
			middleware.F("session_id", c.ID()),
			middleware.F("transport", string(c.Kind())),
			middleware.F("idle", now.Sub(seen.LastSeen())),
		)
	}
	return n
}

// Run sweeps on every interval until ctx is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	if m.idleTTL <= 0 || m.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
