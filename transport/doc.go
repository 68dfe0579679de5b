// Package transport routes JSON-RPC traffic from stdio, streaming HTTP,
// legacy SSE and WebSocket clients to their owning session.
//
// # Sessions
//
// Every client connection that outlives a single request is a Session. The
// Registry indexes live sessions by transport kind, so an id issued on one
// transport never resolves on another. The SessionManager creates sessions,
// retries id collisions and evicts idle streaming-HTTP sessions.
//
// # Stdio
//
// One implicit session over newline-delimited JSON:
//
//	t := transport.NewStdio()
//	err := t.Serve(ctx, handler)
//
// # HTTP
//
// The Router serves every HTTP transport on one listener:
//
//	r := transport.NewRouter(":8080", transport.WithLogger(logger))
//	err := r.Serve(ctx, handler)
//
// Endpoints:
//   - POST/GET/DELETE /mcp: streaming HTTP, keyed by the Mcp-Session-Id header
//   - GET /sse and POST /messages?sessionId=: legacy event stream
//   - GET /ws: WebSocket, with WithWebSocket(true)
//   - GET /health and GET /metrics
//
// Cancelling the Serve context drains the router: new requests get 503,
// every session is closed and in-flight requests are given
// WithShutdownTimeout to finish.
package transport
