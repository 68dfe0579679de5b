// Package server is the transport-agnostic service core: a tool registry
// with typed handlers and the JSON-RPC dispatch that answers initialize,
// ping, tools/list and tools/call.
//
//	type Input struct {
//	    Seconds float64 `json:"seconds" jsonschema:"required"`
//	}
//
//	srv := server.New(server.Info{Name: "mcpmux", Version: "1.0.0"})
//	srv.Tool("format-duration").
//	    Description("Format seconds as a clock string").
//	    Handler(func(ctx context.Context, in Input) (string, error) {
//	        server.ProgressFromContext(ctx).Report(1, nil)
//	        return format(in.Seconds), nil
//	    })
//
// One Server is shared by every session. Handlers read the caller's session
// with protocol.SessionFromContext.
package server
