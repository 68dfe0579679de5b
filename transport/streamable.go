package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
)

var errStreamConflict = errors.New("standalone stream already open")

// Streamable serves the streaming-HTTP transport on a single endpoint.
// Sessions are identified by the Mcp-Session-Id header.
type Streamable struct {
	manager   *SessionManager
	logger    middleware.Logger
	metrics   *Metrics
	maxBody   int64
	keepAlive time.Duration
}

// NewStreamable returns the /mcp endpoint handler.
func NewStreamable(manager *SessionManager, logger middleware.Logger, metrics *Metrics, maxBody int64, keepAlive time.Duration) *Streamable {
	if logger == nil {
		logger = middleware.NopLogger{}
	}
	return &Streamable{
		manager:   manager,
		logger:    logger,
		metrics:   metrics,
		maxBody:   maxBody,
		keepAlive: keepAlive,
	}
}

// streamableConn is a streaming-HTTP session. Server-initiated messages go
// to the standalone GET stream when one is open and are dropped otherwise.
type streamableConn struct {
	*Session

	mu        sync.Mutex
	streaming bool
	stream    *sse.Session
}

func buildStreamable(s *Session) Conn {
	c := &streamableConn{Session: s}
	s.setNotifier(protocol.NotifierFunc(c.notify))
	return c
}

// reserve claims the single standalone stream slot.
func (c *streamableConn) reserve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return errStreamConflict
	}
	c.streaming = true
	return nil
}

func (c *streamableConn) attach(stream *sse.Session) {
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
}

func (c *streamableConn) release() {
	c.mu.Lock()
	c.stream = nil
	c.streaming = false
	c.mu.Unlock()
}

func (c *streamableConn) notify(_ context.Context, method string, params any) error {
	msg, err := notificationMessage(method, params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Send(msg); err != nil {
		return err
	}
	return c.stream.Flush()
}

// Busy reports whether a dispatch is running or the standalone stream is open.
func (c *streamableConn) Busy() bool {
	c.mu.Lock()
	streaming := c.streaming
	c.mu.Unlock()
	return streaming || c.Session.Busy()
}

func (c *streamableConn) keepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	msg := &sse.Message{}
	msg.AppendComment("keep-alive")
	if err := c.stream.Send(msg); err != nil {
		return err
	}
	if err := c.stream.Flush(); err != nil {
		return err
	}
	c.Touch()
	return nil
}

func (h *Streamable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, nil, protocol.NewInvalidRequest("Method not allowed."))
	}
}

func (h *Streamable) reject(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.rejected(reason)
	h.logger.Debug("request rejected",
		middleware.F("reason", reason),
		middleware.F("http_method", r.Method),
		middleware.F("remote", r.RemoteAddr),
	)
	writeInvalidSession(w)
}

func (h *Streamable) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, nil, protocol.NewInvalidRequest("Invalid Request: body too large"))
			return
		}
		writeRPCError(w, http.StatusBadRequest, nil, protocol.NewParseError("Parse error: "+err.Error()))
		return
	}

	req, rpcErr := protocol.Decode(body)
	if rpcErr != nil {
		// Without a live session nothing but a valid initialize is accepted,
		// so envelope errors are only reported to established sessions.
		if _, ok := h.manager.Registry().Lookup(KindStreamable, r.Header.Get(protocol.HeaderSessionID)); !ok {
			h.reject(w, r, ReasonInvalidSession)
			return
		}
		writeRPCError(w, http.StatusBadRequest, nil, rpcErr)
		return
	}

	conn, isNew, err := h.manager.ResolveOrCreate(r.Header.Get(protocol.HeaderSessionID), req, buildStreamable)
	switch {
	case errors.Is(err, ErrInvalidSession):
		h.reject(w, r, ReasonInvalidSession)
		return
	case err != nil:
		h.logger.Error("session creation failed", middleware.F("error", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, req.ID, protocol.NewInternalError("session creation failed"))
		return
	}
	sc := conn.(*streamableConn)

	if isNew {
		h.logger.Info("session created", middleware.F("session_id", sc.ID()), middleware.F("transport", string(KindStreamable)))
	} else if protocol.IsInitializeRequest(req) {
		h.metrics.rejected(ReasonReinitialize)
		writeRPCError(w, http.StatusBadRequest, req.ID, protocol.NewInvalidRequest("Invalid Request: Server already initialized"))
		return
	}

	w.Header().Set(protocol.HeaderSessionID, sc.ID())

	if req.IsNotification() || req.IsResponse() {
		sc.Dispatch(r.Context(), req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsEventStream(r) && hasProgressToken(req.Params) {
		h.respondStream(w, r, sc, req)
		return
	}

	writeJSON(w, http.StatusOK, sc.Dispatch(r.Context(), req))
}

// respondStream answers req as an SSE stream: notifications raised while the
// request runs, then the response, then the stream ends.
func (h *Streamable) respondStream(w http.ResponseWriter, r *http.Request, sc *streamableConn, req *protocol.Request) {
	stream, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSON(w, http.StatusOK, sc.Dispatch(r.Context(), req))
		return
	}

	var mu sync.Mutex
	send := func(msg *sse.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if err := stream.Send(msg); err != nil {
			return err
		}
		return stream.Flush()
	}

	ctx := protocol.ContextWithNotifier(r.Context(), protocol.NotifierFunc(func(_ context.Context, method string, params any) error {
		msg, err := notificationMessage(method, params)
		if err != nil {
			return err
		}
		return send(msg)
	}))

	resp := sc.Dispatch(ctx, req)
	msg, err := jsonMessage(resp)
	if err != nil {
		h.logger.Error("encode response", middleware.F("error", err.Error()))
		return
	}
	if err := send(msg); err != nil {
		h.logger.Debug("stream write failed", middleware.F("session_id", sc.ID()), middleware.F("error", err.Error()))
	}
}

func (h *Streamable) resolve(w http.ResponseWriter, r *http.Request) (*streamableConn, bool) {
	c, ok := h.manager.Registry().Lookup(KindStreamable, r.Header.Get(protocol.HeaderSessionID))
	if !ok {
		h.reject(w, r, ReasonInvalidSession)
		return nil, false
	}
	return c.(*streamableConn), true
}

// handleGet opens the standalone stream for server-initiated messages.
func (h *Streamable) handleGet(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.resolve(w, r)
	if !ok {
		return
	}

	if err := sc.reserve(); err != nil {
		h.metrics.rejected(ReasonStreamConflict)
		writeRPCError(w, http.StatusConflict, nil, protocol.NewInvalidRequest("Conflict: Only one SSE stream is allowed per session"))
		return
	}
	defer sc.release()

	w.Header().Set(protocol.HeaderSessionID, sc.ID())
	stream, err := sse.Upgrade(w, r)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, nil, protocol.NewInternalError(err.Error()))
		return
	}
	sc.attach(stream)

	// flush headers so the client sees the stream open
	if err := sc.keepAlive(); err != nil {
		return
	}

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sc.Done():
			return
		case <-tick:
			if err := sc.keepAlive(); err != nil {
				return
			}
		}
	}
}

func (h *Streamable) handleDelete(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.resolve(w, r)
	if !ok {
		return
	}
	_ = sc.Close()
	h.logger.Info("session terminated", middleware.F("session_id", sc.ID()), middleware.F("transport", string(KindStreamable)))
	w.WriteHeader(http.StatusOK)
}

func jsonMessage(v any) (*sse.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &sse.Message{}
	msg.AppendData(string(data))
	return msg, nil
}

func notificationMessage(method string, params any) (*sse.Message, error) {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	return jsonMessage(n)
}
