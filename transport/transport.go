package transport

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Handler processes decoded MCP requests.
type Handler interface {
	HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// HandleRequest calls f(ctx, req).
func (f HandlerFunc) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

// Transport is a long-running listener bound to one Handler.
type Transport interface {
	// Serve blocks until ctx is cancelled or the transport fails.
	Serve(ctx context.Context, handler Handler) error
	Addr() string
}

// Kind names a transport family. Session ids are scoped to a Kind.
type Kind string

const (
	KindStdio      Kind = "stdio"
	KindStreamable Kind = "streamable-http"
	KindSSE        Kind = "sse"
	KindWebSocket  Kind = "websocket"
)

// Kinds lists the kinds tracked by the registry.
var Kinds = []Kind{KindStreamable, KindSSE, KindWebSocket}

// Conn is a live session bound to one transport instance.
type Conn interface {
	ID() string
	Kind() Kind
	// Done is closed exactly once, when the session closes.
	Done() <-chan struct{}
	Close() error
}

var (
	// ErrInvalidSession: a streaming-HTTP request carried no usable session
	// and was not an initialize request.
	ErrInvalidSession = errors.New("transport: no valid session id provided")
	// ErrUnknownSession: a legacy message named a session that does not exist.
	ErrUnknownSession = errors.New("transport: no transport found for session id")
	// ErrTransportStartup: the transport's channel could not be established.
	ErrTransportStartup = errors.New("transport: startup failed")
	// ErrSessionExists: an id collided with a live session of the same kind.
	ErrSessionExists = errors.New("transport: session already registered")
	// ErrSessionClosed: the session closed while work was being delivered.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrUnregisteredKind: the kind is never tracked by the registry.
	ErrUnregisteredKind = errors.New("transport: kind is not registrable")
)

func isClosed(c Conn) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}
