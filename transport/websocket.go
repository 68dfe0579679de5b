package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
)

// WebSocket serves one session per upgraded socket. Messages on a socket
// are handled in order; writes are serialized per connection.
type WebSocket struct {
	manager  *SessionManager
	logger   middleware.Logger
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxMessage   int64
}

// WebSocketOption configures a WebSocket adapter.
type WebSocketOption func(*WebSocket)

// WithWebSocketReadTimeout closes sockets silent for longer than d.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) { ws.readTimeout = d }
}

// WithWebSocketWriteTimeout bounds each write.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) { ws.writeTimeout = d }
}

// WithWebSocketCheckOrigin sets the upgrade origin check.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) { ws.upgrader.CheckOrigin = fn }
}

// WithWebSocketMaxMessage caps inbound message size.
func WithWebSocketMaxMessage(n int64) WebSocketOption {
	return func(ws *WebSocket) { ws.maxMessage = n }
}

// NewWebSocket returns the /ws handler.
func NewWebSocket(manager *SessionManager, logger middleware.Logger, opts ...WebSocketOption) *WebSocket {
	if logger == nil {
		logger = middleware.NopLogger{}
	}
	ws := &WebSocket{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		readTimeout:  5 * time.Minute,
		writeTimeout: 10 * time.Second,
		maxMessage:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

type socketConn struct {
	*Session
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *socketConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(v)
}

func (c *socketConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}

func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		return
	}
	if ws.maxMessage > 0 {
		raw.SetReadLimit(ws.maxMessage)
	}

	conn, err := ws.manager.Open(KindWebSocket, func(s *Session) Conn {
		c := &socketConn{Session: s, ws: raw, writeTimeout: ws.writeTimeout}
		s.setNotifier(protocol.NotifierFunc(func(_ context.Context, method string, params any) error {
			n, err := protocol.NewNotification(method, params)
			if err != nil {
				return err
			}
			return c.writeJSON(n)
		}))
		s.OnClose(c.shutdown)
		return c
	})
	if err != nil {
		ws.logger.Error("session creation failed", middleware.F("error", err.Error()), middleware.F("transport", string(KindWebSocket)))
		_ = raw.Close()
		return
	}
	sc := conn.(*socketConn)
	defer sc.Close()

	ws.logger.Info("session created", middleware.F("session_id", sc.ID()), middleware.F("transport", string(KindWebSocket)))

	for {
		if ws.readTimeout > 0 {
			_ = raw.SetReadDeadline(time.Now().Add(ws.readTimeout))
		}
		_, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("socket read failed", middleware.F("session_id", sc.ID()), middleware.F("error", err.Error()))
			}
			return
		}

		req, rpcErr := protocol.Decode(message)
		if rpcErr != nil {
			_ = sc.writeJSON(protocol.NewErrorResponse(nil, rpcErr))
			continue
		}
		if resp := sc.Dispatch(context.Background(), req); resp != nil {
			if err := sc.writeJSON(resp); err != nil {
				return
			}
		}
	}
}
