// Package protocol defines the JSON-RPC 2.0 message types, MCP method names
// and error codes shared by every transport.
//
// # Messages
//
// A single inbound message is decoded with Decode, which rejects batches and
// malformed envelopes with a ready-to-send *Error:
//
//	req, rpcErr := protocol.Decode(body)
//	if rpcErr != nil {
//	    resp := protocol.NewErrorResponse(nil, rpcErr)
//	}
//
// Request doubles as the container for client responses: a message with an
// id but no method is a response (see Request.IsResponse).
//
// # Sessions
//
// IsInitializeRequest recognises the request that opens a streaming-HTTP
// session. Transports attach a SessionInfo and a Notifier to the request
// context so handlers can address the caller without knowing its transport:
//
//	info, _ := protocol.SessionFromContext(ctx)
//	protocol.NotifierFromContext(ctx).Notify(ctx, protocol.MethodProgress, params)
//
// # Error Codes
//
//	CodeParseError     = -32700
//	CodeInvalidRequest = -32600
//	CodeMethodNotFound = -32601
//	CodeInvalidParams  = -32602
//	CodeInternalError  = -32603
//	CodeServerError    = -32000  // no valid session
package protocol
