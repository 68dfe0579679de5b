package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

func newRequest(t *testing.T, id, method string, params any) *protocol.Request {
	t.Helper()
	req := &protocol.Request{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		req.Params = data
	}
	return req
}

func resultMap(t *testing.T, resp *protocol.Response) map[string]any {
	t.Helper()
	if resp == nil {
		t.Fatal("expected response")
	}
	data, _ := json.Marshal(resp.Result)
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestServer_HandleRequest(t *testing.T) {
	srv := New(Info{Name: "demo", Version: "0.1.0"})
	srv.Tool("echo").Handler(func(ctx context.Context, in struct {
		Text string `json:"text"`
	}) (string, error) {
		_ = ProgressFromContext(ctx).ReportWithMessage(1, nil, "working")
		return strings.ToUpper(in.Text), nil
	})

	t.Run("initialize echoes supported version", func(t *testing.T) {
		resp, err := srv.HandleRequest(context.Background(), newRequest(t, "1", "initialize", map[string]any{
			"protocolVersion": "2024-11-05",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m := resultMap(t, resp)
		if m["protocolVersion"] != "2024-11-05" {
			t.Errorf("protocolVersion = %v", m["protocolVersion"])
		}
		if m["serverInfo"].(map[string]any)["name"] != "demo" {
			t.Errorf("serverInfo = %v", m["serverInfo"])
		}
		if _, ok := m["capabilities"].(map[string]any)["tools"]; !ok {
			t.Error("expected tools capability")
		}
	})

	t.Run("initialize falls back to latest version", func(t *testing.T) {
		resp, _ := srv.HandleRequest(context.Background(), newRequest(t, "1", "initialize", map[string]any{
			"protocolVersion": "1999-01-01",
		}))
		if v := resultMap(t, resp)["protocolVersion"]; v != protocol.MCPVersion {
			t.Errorf("protocolVersion = %v", v)
		}
	})

	t.Run("notifications get no response", func(t *testing.T) {
		resp, err := srv.HandleRequest(context.Background(), newRequest(t, "", "notifications/initialized", nil))
		if resp != nil || err != nil {
			t.Errorf("got (%v, %v), want (nil, nil)", resp, err)
		}
	})

	t.Run("ping returns empty result", func(t *testing.T) {
		resp, err := srv.HandleRequest(context.Background(), newRequest(t, "2", "ping", nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, _ := json.Marshal(resp)
		if string(data) != `{"jsonrpc":"2.0","id":2,"result":{}}` {
			t.Errorf("got %s", data)
		}
	})

	t.Run("tools/list returns registered tools", func(t *testing.T) {
		resp, _ := srv.HandleRequest(context.Background(), newRequest(t, "3", "tools/list", nil))
		tools := resultMap(t, resp)["tools"].([]any)
		if len(tools) != 1 || tools[0].(map[string]any)["name"] != "echo" {
			t.Errorf("tools = %v", tools)
		}
	})

	t.Run("tools/call returns text content and reports progress", func(t *testing.T) {
		n := &recordingNotifier{}
		ctx := protocol.ContextWithNotifier(context.Background(), n)
		resp, err := srv.HandleRequest(ctx, newRequest(t, "4", "tools/call", map[string]any{
			"name":      "echo",
			"arguments": map[string]any{"text": "hi"},
			"_meta":     map[string]any{"progressToken": "p1"},
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		content := resultMap(t, resp)["content"].([]any)
		if content[0].(map[string]any)["text"] != "HI" {
			t.Errorf("content = %v", content)
		}
		sent := n.all()
		if len(sent) != 1 || sent[0].Params["progressToken"] != "p1" {
			t.Errorf("progress = %v", sent)
		}
	})

	t.Run("tools/call rejects unknown tool", func(t *testing.T) {
		_, err := srv.HandleRequest(context.Background(), newRequest(t, "5", "tools/call", map[string]any{"name": "nope"}))
		var rpcErr *protocol.Error
		if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeInvalidParams {
			t.Errorf("got %v, want invalid params", err)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := srv.HandleRequest(context.Background(), newRequest(t, "6", "resources/list", nil))
		var rpcErr *protocol.Error
		if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeMethodNotFound {
			t.Errorf("got %v, want method not found", err)
		}
	})
}

func TestResultText(t *testing.T) {
	got, err := resultText(map[string]int{"a": 1})
	if err != nil || got != `{"a":1}` {
		t.Errorf("got %q, %v", got, err)
	}
	if got, _ := resultText("plain"); got != "plain" {
		t.Errorf("got %q", got)
	}
}
