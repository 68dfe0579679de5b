package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// HandleRequest answers one decoded JSON-RPC message. Notifications yield a
// nil response. Errors are returned as-is; the caller maps them to a JSON-RPC
// error envelope with protocol.AsError.
func (s *Server) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.IsNotification() {
		// initialized, cancelled and unknown notifications need no reply
		return nil, nil
	}

	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodPing:
		return protocol.NewResponse(req.ID, map[string]any{}), nil
	case protocol.MethodToolsList:
		return protocol.NewResponse(req.ID, map[string]any{"tools": s.Tools()}), nil
	case protocol.MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	default:
		return nil, protocol.NewMethodNotFound("Method not found: " + req.Method)
	}
}

func (s *Server) handleInitialize(req *protocol.Request) (*protocol.Response, error) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewInvalidParams(err.Error())
		}
	}

	m := s.Manifest()
	version := m.ProtocolVersion
	if slices.Contains(protocol.SupportedVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	caps := map[string]any{}
	if m.Capabilities.Tools {
		caps["tools"] = map[string]any{}
	}

	result := map[string]any{
		"protocolVersion": version,
		"serverInfo": map[string]any{
			"name":    m.Name,
			"version": m.Version,
		},
		"capabilities": caps,
	}
	if instr := s.Info().Instructions; instr != "" {
		result["instructions"] = instr
	}
	return protocol.NewResponse(req.ID, result), nil
}

func (s *Server) handleToolsCall(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewInvalidParams(err.Error())
	}

	tool, ok := s.GetTool(params.Name)
	if !ok {
		return nil, protocol.NewInvalidParams("Unknown tool: " + params.Name)
	}

	if token := ExtractProgressToken(req.Params); token != nil {
		if n := protocol.NotifierFromContext(ctx); n != nil {
			ctx = ContextWithProgress(ctx, NewProgressReporter(ctx, token, n))
		}
	}

	result, err := tool.Execute(ctx, params.Arguments)
	if err != nil {
		return nil, protocol.AsError(err)
	}

	text, err := resultText(result)
	if err != nil {
		return nil, protocol.NewInternalError(err.Error())
	}
	return protocol.NewResponse(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	}), nil
}

func resultText(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case fmt.Stringer:
		return r.String(), nil
	case nil:
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(data), nil
}
