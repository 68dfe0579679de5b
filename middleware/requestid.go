package middleware

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

type requestIDKey struct{}

// RequestID injects a ULID request id unless ctx already carries one.
func RequestID() Middleware {
	return RequestIDWithGenerator(func() string { return ulid.Make().String() })
}

// RequestIDWithGenerator is RequestID with a custom id source.
func RequestIDWithGenerator(generate func() string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, generate())
			}
			return next(ctx, req)
		}
	}
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID returns a context carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
