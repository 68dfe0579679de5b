package middleware

import "time"

// StackOptions selects the middleware assembled by Stack.
type StackOptions struct {
	Logger      Logger
	Timeout     time.Duration
	RateLimit   int
	RateBurst   int
	Tracing     bool
	ServiceName string
	OTel        []OTelOption
}

// DefaultStack returns panic recovery, request ids and logging.
func DefaultStack(logger Logger) []Middleware {
	return Stack(StackOptions{Logger: logger})
}

// Stack builds the production chain in execution order: Recover, RequestID,
// OTel, Logging, RateLimitBySession, Timeout. Zero values disable the
// optional entries.
func Stack(opts StackOptions) []Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	stack := []Middleware{
		RecoverWithLogger(logger),
		RequestID(),
	}
	if opts.Tracing {
		otelOpts := opts.OTel
		if opts.ServiceName != "" {
			otelOpts = append([]OTelOption{WithOTelServiceName(opts.ServiceName)}, otelOpts...)
		}
		stack = append(stack, OTel(otelOpts...))
	}
	stack = append(stack, Logging(logger))
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = opts.RateLimit
		}
		stack = append(stack, RateLimitBySession(opts.RateLimit, burst, WithRateLimitLogger(logger)))
	}
	if opts.Timeout > 0 {
		stack = append(stack, Timeout(opts.Timeout))
	}
	return stack
}
