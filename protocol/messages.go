package protocol

import (
	"bytes"
	"encoding/json"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// NullID is the explicit JSON null id used by error responses that cannot be
// correlated with a request.
var NullID = json.RawMessage("null")

// Request represents a JSON-RPC 2.0 request, notification or, when Method is
// empty, a client response to a server-initiated request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification returns true if this request has no ID (is a notification).
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, NullID)
}

// IsResponse reports whether the message is a client response rather than a request.
func (r *Request) IsResponse() bool {
	return r.Method == "" && !r.IsNotification()
}

// Validate checks the JSON-RPC envelope without looking at method semantics.
func (r *Request) Validate() *Error {
	if r.JSONRPC != JSONRPCVersion {
		return NewInvalidRequest("Invalid Request: jsonrpc must be \"2.0\"")
	}
	if r.Method == "" && r.IsNotification() {
		return NewInvalidRequest("Invalid Request: missing method")
	}
	return nil
}

// IsInitializeRequest reports whether req opens a new session: an
// initialize call that expects a response.
func IsInitializeRequest(req *Request) bool {
	if req == nil || req.Method != MethodInitialize {
		return false
	}
	return req.JSONRPC == JSONRPCVersion && !req.IsNotification()
}

// Decode parses a single JSON-RPC message. Batches are rejected.
func Decode(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewParseError("Parse error: empty body")
	}
	if trimmed[0] == '[' {
		return nil, NewInvalidRequest("Invalid Request: batch messages are not supported")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, NewParseError("Parse error: " + err.Error())
	}
	if rpcErr := req.Validate(); rpcErr != nil {
		return nil, rpcErr
	}
	return &req, nil
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse creates a successful response.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response. A missing id is encoded as null.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	if len(id) == 0 {
		id = NullID
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

// Notification represents a JSON-RPC notification (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification marshals params into a notification envelope.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPC: JSONRPCVersion, Method: method}
	if params == nil {
		return n, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	n.Params = data
	return n, nil
}
