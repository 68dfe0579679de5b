package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
)

const (
	inboxSize  = 64
	outboxSize = 64
)

var (
	eventEndpoint = sse.Type("endpoint")
	eventMessage  = sse.Type("message")
)

// SSE serves the legacy two-channel transport: a GET stream that carries
// every server message and a POST side channel for client messages.
type SSE struct {
	manager   *SessionManager
	logger    middleware.Logger
	metrics   *Metrics
	maxBody   int64
	keepAlive time.Duration
	endpoint  string
}

// NewSSE returns the legacy adapter. endpoint is the message path announced
// to clients, normally "/messages".
func NewSSE(manager *SessionManager, logger middleware.Logger, metrics *Metrics, maxBody int64, keepAlive time.Duration, endpoint string) *SSE {
	if logger == nil {
		logger = middleware.NopLogger{}
	}
	return &SSE{
		manager:   manager,
		logger:    logger,
		metrics:   metrics,
		maxBody:   maxBody,
		keepAlive: keepAlive,
		endpoint:  endpoint,
	}
}

// pushConn is a legacy session. Client messages are queued in inbox and
// handled one at a time; everything sent to the client goes through outbox
// to the single stream writer.
type pushConn struct {
	*Session
	inbox  chan *protocol.Request
	outbox chan []byte
}

func buildPush(s *Session) Conn {
	c := &pushConn{
		Session: s,
		inbox:   make(chan *protocol.Request, inboxSize),
		outbox:  make(chan []byte, outboxSize),
	}
	s.setNotifier(protocol.NotifierFunc(c.notify))
	return c
}

// enqueue delivers req to the session's inbox in arrival order.
func (c *pushConn) enqueue(ctx context.Context, req *protocol.Request) error {
	select {
	case <-c.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case c.inbox <- req:
		return nil
	case <-c.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pushConn) push(ctx context.Context, data []byte) error {
	select {
	case c.outbox <- data:
		return nil
	case <-c.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pushConn) notify(ctx context.Context, method string, params any) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return c.push(ctx, data)
}

// work drains the inbox until the session closes.
func (c *pushConn) work(logger middleware.Logger) {
	for {
		select {
		case <-c.Done():
			return
		case req := <-c.inbox:
			resp := c.Dispatch(context.Background(), req)
			if resp == nil {
				continue
			}
			data, err := json.Marshal(resp)
			if err != nil {
				logger.Error("encode response", middleware.F("session_id", c.ID()), middleware.F("error", err.Error()))
				continue
			}
			if err := c.push(context.Background(), data); err != nil {
				return
			}
		}
	}
}

// HandleStream opens a new legacy session on GET /sse.
func (h *SSE) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.manager.Open(KindSSE, buildPush)
	if err != nil {
		h.logger.Error("session creation failed", middleware.F("error", err.Error()), middleware.F("transport", string(KindSSE)))
		http.Error(w, "session creation failed", http.StatusInternalServerError)
		return
	}
	pc := conn.(*pushConn)
	defer pc.Close()

	// upgrade only once the session exists so failures stay plain HTTP
	stream, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("session created", middleware.F("session_id", pc.ID()), middleware.F("transport", string(KindSSE)))

	endpoint := &sse.Message{Type: eventEndpoint}
	endpoint.AppendData(h.endpoint + "?sessionId=" + url.QueryEscape(pc.ID()))
	if err := send(stream, endpoint); err != nil {
		return
	}

	go pc.work(h.logger)

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("stream disconnected", middleware.F("session_id", pc.ID()))
			return
		case <-pc.Done():
			return
		case data := <-pc.outbox:
			msg := &sse.Message{Type: eventMessage}
			msg.AppendData(string(data))
			if err := send(stream, msg); err != nil {
				return
			}
		case <-tick:
			ping := &sse.Message{}
			ping.AppendComment("keep-alive")
			if err := send(stream, ping); err != nil {
				return
			}
		}
	}
}

// HandleMessage delivers a client message on POST /messages?sessionId=.
func (h *SSE) HandleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	conn, ok := h.manager.Registry().Lookup(KindSSE, id)
	if !ok {
		h.unknown(w, r, id)
		return
	}

	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeText(w, status, "Invalid message: "+err.Error())
		return
	}
	req, rpcErr := protocol.Decode(body)
	if rpcErr != nil {
		writeText(w, http.StatusBadRequest, "Invalid message: "+rpcErr.Message)
		return
	}

	if err := conn.(*pushConn).enqueue(r.Context(), req); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			h.unknown(w, r, id)
		}
		return
	}
	writeText(w, http.StatusAccepted, "Accepted")
}

func (h *SSE) unknown(w http.ResponseWriter, r *http.Request, id string) {
	h.metrics.rejected(ReasonUnknownSession)
	h.logger.Debug("request rejected",
		middleware.F("reason", ReasonUnknownSession),
		middleware.F("session_id", id),
		middleware.F("remote", r.RemoteAddr),
	)
	writeText(w, http.StatusBadRequest, "No transport found for sessionId")
}

func send(stream *sse.Session, msg *sse.Message) error {
	if err := stream.Send(msg); err != nil {
		return err
	}
	return stream.Flush()
}
