package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/mcpmux/middleware"
)

// Router serves every HTTP transport on one listener:
//
//	/mcp       streaming HTTP (POST, GET, DELETE)
//	/sse       legacy event stream (GET)
//	/messages  legacy side channel (POST)
//	/ws        WebSocket, when enabled
//	/health    liveness and session counts
//	/metrics   prometheus exposition
type Router struct {
	addr            string
	logger          middleware.Logger
	metrics         *Metrics
	registry        *Registry
	cors            CORSConfig
	maxBody         int64
	keepAlive       time.Duration
	idleTTL         time.Duration
	sweepInterval   time.Duration
	shutdownTimeout time.Duration
	readTimeout     time.Duration
	enableWebSocket bool
	idGenerator     func() string

	mu         sync.RWMutex
	listenAddr string
	ready      chan struct{}
	manager    *SessionManager
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l middleware.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithCORS replaces the default CORS configuration.
func WithCORS(c CORSConfig) RouterOption {
	return func(r *Router) { r.cors = c }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) RouterOption {
	return func(r *Router) { r.maxBody = n }
}

// WithKeepAlive sets the interval of keep-alive comments on event streams.
func WithKeepAlive(d time.Duration) RouterOption {
	return func(r *Router) { r.keepAlive = d }
}

// WithSessionIdleTTL sets the streaming-HTTP idle eviction TTL; zero disables it.
func WithSessionIdleTTL(d time.Duration) RouterOption {
	return func(r *Router) { r.idleTTL = d }
}

// WithSessionSweepInterval sets how often idle sessions are swept.
func WithSessionSweepInterval(d time.Duration) RouterOption {
	return func(r *Router) { r.sweepInterval = d }
}

// WithShutdownTimeout bounds the wait for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.shutdownTimeout = d }
}

// WithReadTimeout sets the HTTP server's read timeout.
func WithReadTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.readTimeout = d }
}

// WithWebSocket mounts the WebSocket adapter on /ws.
func WithWebSocket(enabled bool) RouterOption {
	return func(r *Router) { r.enableWebSocket = enabled }
}

// WithSessionIDGenerator replaces the session id source.
func WithSessionIDGenerator(fn func() string) RouterOption {
	return func(r *Router) { r.idGenerator = fn }
}

// NewRouter returns a router that will listen on addr.
func NewRouter(addr string, opts ...RouterOption) *Router {
	r := &Router{
		addr:            addr,
		logger:          middleware.NopLogger{},
		metrics:         NewMetrics(),
		cors:            DefaultCORSConfig(),
		maxBody:         DefaultMaxBodyBytes,
		keepAlive:       30 * time.Second,
		idleTTL:         30 * time.Minute,
		sweepInterval:   time.Minute,
		shutdownTimeout: 10 * time.Second,
		readTimeout:     30 * time.Second,
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registry = NewRegistry(WithRegistryMetrics(r.metrics), WithRegistryLogger(r.logger))
	return r
}

// Addr returns the configured address.
func (r *Router) Addr() string { return r.addr }

// ListenAddr returns the bound address once Serve is listening.
func (r *Router) ListenAddr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listenAddr
}

// Ready is closed once Serve is listening.
func (r *Router) Ready() <-chan struct{} { return r.ready }

// Registry returns the session registry.
func (r *Router) Registry() *Registry { return r.registry }

// Metrics returns the router's collectors.
func (r *Router) Metrics() *Metrics { return r.metrics }

// Manager returns the session manager bound by the last Handler call.
func (r *Router) Manager() *SessionManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manager
}

// Handler builds the HTTP handler with every session bound to handler.
// It does not start the idle sweeper: embedders that mount the handler on
// their own server run Manager().Run(ctx) next to it. Serve does both.
func (r *Router) Handler(handler Handler) http.Handler {
	return r.createHandler(handler, nil)
}

func (r *Router) createHandler(handler Handler, sm *ShutdownManager) http.Handler {
	manager := NewSessionManager(r.registry, handler,
		WithIdleTTL(r.idleTTL),
		WithSweepInterval(r.sweepInterval),
		WithManagerLogger(r.logger),
		WithManagerMetrics(r.metrics),
	)
	if r.idGenerator != nil {
		manager.newID = r.idGenerator
	}
	r.mu.Lock()
	r.manager = manager
	r.mu.Unlock()

	streamable := NewStreamable(manager, r.logger, r.metrics, r.maxBody, r.keepAlive)
	legacy := NewSSE(manager, r.logger, r.metrics, r.maxBody, r.keepAlive, "/messages")

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.HandleFunc("GET /sse", legacy.HandleStream)
	mux.HandleFunc("POST /messages", legacy.HandleMessage)
	mux.HandleFunc("GET /health", r.handleHealth)
	mux.Handle("GET /metrics", r.metrics.Handler())
	if r.enableWebSocket {
		mux.Handle("GET /ws", NewWebSocket(manager, r.logger, WithWebSocketMaxMessage(r.maxBody)))
	}

	var h http.Handler = mux
	if sm != nil {
		h = sm.Middleware(h, func() { r.metrics.rejected(ReasonDraining) })
	}
	return CORSHandler(r.cors, h)
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	counts := r.registry.Counts()
	sessions := make(map[string]int, len(counts))
	for k, n := range counts {
		sessions[string(k)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": sessions,
	})
}

// Serve listens on the configured address and blocks until ctx is
// cancelled or the server fails. Shutdown stops accepting new requests,
// closes every session, waits for in-flight requests and then stops the
// HTTP server.
func (r *Router) Serve(ctx context.Context, handler Handler) error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrTransportStartup, r.addr, err)
	}

	sm := NewShutdownManager(ShutdownConfig{
		Timeout: r.shutdownTimeout,
		OnDrainStart: func() {
			r.logger.Info("closing sessions", middleware.F("count", r.liveSessions()))
			r.registry.CloseAll()
		},
	})

	srv := &http.Server{
		Handler:           r.createHandler(handler, sm),
		ReadHeaderTimeout: r.readTimeout,
	}

	r.mu.Lock()
	r.listenAddr = ln.Addr().String()
	r.mu.Unlock()
	close(r.ready)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go r.Manager().Run(sweepCtx)

	r.logger.Info("http transport listening", middleware.F("addr", r.ListenAddr()))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		r.registry.CloseAll()
		return err
	case <-ctx.Done():
	}

	r.logger.Info("shutting down", middleware.F("in_flight", sm.InFlightRequests()))
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()
	if err := sm.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("in-flight requests abandoned", middleware.F("error", err.Error()))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("http shutdown: %w", err)
	}
	r.logger.Info("shutdown complete")
	return nil
}

func (r *Router) liveSessions() int {
	n := 0
	for _, c := range r.registry.Counts() {
		n += c
	}
	return n
}
