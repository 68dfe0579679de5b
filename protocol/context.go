package protocol

import "context"

// SessionInfo identifies the session and transport a request arrived on.
// ID is empty for the stdio transport, which has exactly one implicit session.
type SessionInfo struct {
	ID        string
	Transport string
}

type sessionInfoKey struct{}

// ContextWithSession returns a context carrying the session info.
func ContextWithSession(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionInfoKey{}, info)
}

// SessionFromContext returns the session info attached to ctx, if any.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	info, ok := ctx.Value(sessionInfoKey{}).(SessionInfo)
	return info, ok
}

// Notifier delivers JSON-RPC notifications back through the transport that
// carried the current request.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, method string, params any) error

// Notify calls f(ctx, method, params).
func (f NotifierFunc) Notify(ctx context.Context, method string, params any) error {
	return f(ctx, method, params)
}

type notifierKey struct{}

// ContextWithNotifier returns a context with the notifier attached.
func ContextWithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// NotifierFromContext returns the notifier from context, or nil if none.
func NotifierFromContext(ctx context.Context) Notifier {
	n, _ := ctx.Value(notifierKey{}).(Notifier)
	return n
}
