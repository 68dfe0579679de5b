// Package middleware provides the handler chain every transport runs
// requests through before they reach the service core.
//
// Each middleware wraps the next handler:
//
//	h := middleware.Chain(middleware.Stack(middleware.StackOptions{
//	    Logger:    logger,
//	    Timeout:   time.Minute,
//	    RateLimit: 20,
//	})...)(srv.HandleRequest)
//
// Available middleware:
//
//   - Recover, RecoverWithLogger: panics become -32603 errors
//   - RequestID: ULID request ids in the context
//   - Logging: one entry per request with session id and transport kind
//   - RateLimit, RateLimitBySession: token buckets backed by fortify
//   - Timeout: per-request deadline
//   - OTel: spans and metrics through OpenTelemetry
//
// Session identity is read from protocol.SessionFromContext, which the
// transports populate before dispatch.
package middleware
