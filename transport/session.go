package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Session is the transport-independent part of a connection: identity,
// lifetime and dispatch into the service core. Adapters embed it.
type Session struct {
	id        string
	kind      Kind
	handler   Handler
	createdAt time.Time

	lastSeen    atomic.Int64
	inflight    atomic.Int64
	initialized atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	notifier protocol.Notifier
	onClose  []func()
}

func newSession(id string, kind Kind, handler Handler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		kind:      kind,
		handler:   handler,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.lastSeen.Store(s.createdAt.UnixNano())
	return s
}

// ID returns the session id the client echoes back.
func (s *Session) ID() string { return s.id }

// Kind returns the transport the session was opened on.
func (s *Session) Kind() Kind { return s.kind }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastSeen reports the time of the most recent client activity.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// Busy reports whether a dispatch is still running.
func (s *Session) Busy() bool {
	return s.inflight.Load() > 0
}

// Initialized reports whether initialize has been answered successfully.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// Close closes the session once. Cleanup hooks run on the first call.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	return nil
}

// OnClose registers fn to run when the session closes. If it is already
// closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.ctx.Err() == nil {
		s.onClose = append(s.onClose, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Session) setNotifier(n protocol.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Session) info() protocol.SessionInfo {
	return protocol.SessionInfo{ID: s.id, Transport: string(s.kind)}
}

// Dispatch runs req through the handler under a context cancelled by either
// ctx or the session closing. It returns nil for notifications and client
// responses. Handler errors become JSON-RPC error responses.
func (s *Session) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	s.Touch()
	s.inflight.Add(1)
	defer func() {
		s.inflight.Add(-1)
		s.Touch()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx = protocol.ContextWithSession(ctx, s.info())
	if protocol.NotifierFromContext(ctx) == nil {
		s.mu.Lock()
		n := s.notifier
		s.mu.Unlock()
		if n != nil {
			ctx = protocol.ContextWithNotifier(ctx, n)
		}
	}

	if req.IsResponse() {
		return nil
	}

	resp, err := s.handler.HandleRequest(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.AsError(err))
	}
	if resp == nil {
		return protocol.NewErrorResponse(req.ID, protocol.NewInternalError("handler returned no response"))
	}
	if req.Method == protocol.MethodInitialize && resp.Error == nil {
		s.initialized.Store(true)
	}
	return resp
}
