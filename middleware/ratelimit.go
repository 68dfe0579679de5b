package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// KeyFunc derives the rate limit bucket for a request.
type KeyFunc func(ctx context.Context, req *protocol.Request) string

// RateLimitOption configures the rate limiter.
type RateLimitOption func(*rateLimitConfig)

type rateLimitConfig struct {
	key    KeyFunc
	logger Logger
}

// WithRateLimitKeyFunc sets the bucket key function.
func WithRateLimitKeyFunc(fn KeyFunc) RateLimitOption {
	return func(c *rateLimitConfig) { c.key = fn }
}

// WithRateLimitLogger logs rejected requests to l.
func WithRateLimitLogger(l Logger) RateLimitOption {
	return func(c *rateLimitConfig) { c.logger = l }
}

// RateLimit applies a token bucket of rate requests per second with the
// given burst. Without a key function every request shares one bucket.
func RateLimit(rate, burst int, opts ...RateLimitOption) Middleware {
	cfg := &rateLimitConfig{
		key: func(context.Context, *protocol.Request) string { return "global" },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Rate:     rate,
		Burst:    burst,
		Interval: time.Second,
	})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			key := cfg.key(ctx, req)
			if !limiter.Allow(ctx, key) {
				if cfg.logger != nil {
					cfg.logger.Warn("rate limit exceeded", F("method", req.Method), F("key", key))
				}
				return nil, protocol.NewRateLimited("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}

// RateLimitBySession gives each session its own bucket. Requests without
// a session id share the bucket of their transport kind.
func RateLimitBySession(rate, burst int, opts ...RateLimitOption) Middleware {
	return RateLimit(rate, burst, append([]RateLimitOption{WithRateLimitKeyFunc(SessionKey)}, opts...)...)
}

// SessionKey is the KeyFunc used by RateLimitBySession.
func SessionKey(ctx context.Context, _ *protocol.Request) string {
	info, ok := protocol.SessionFromContext(ctx)
	switch {
	case !ok:
		return "anonymous"
	case info.ID == "":
		return info.Transport
	default:
		return info.Transport + ":" + info.ID
	}
}
