package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Timeout bounds each request with a deadline. A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
