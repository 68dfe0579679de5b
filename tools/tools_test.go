package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/felixgeelhaar/mcpmux/protocol"
	"github.com/felixgeelhaar/mcpmux/server"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{61.9, "01:01"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{360000, "100:00:00"},
		{-1, "N/A"},
		{math.NaN(), "N/A"},
		{math.Inf(1), "N/A"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func newServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.Info{Name: "tools-test", Version: "0.0.0"})
	if err := Register(srv); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	return srv
}

func call(t *testing.T, ctx context.Context, srv *server.Server, name, args string) (string, error) {
	t.Helper()
	req := &protocol.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  protocol.MethodToolsCall,
		Params:  json.RawMessage(`{"name":"` + name + `","arguments":` + args + `}`),
	}
	resp, err := srv.HandleRequest(ctx, req)
	if err != nil {
		return "", err
	}
	content := resp.Result.(map[string]any)["content"].([]map[string]any)
	return content[0]["text"].(string), nil
}

func TestRegister(t *testing.T) {
	srv := newServer(t)

	names := []string{}
	for _, tool := range srv.Tools() {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "countdown,format-duration,session-info" {
		t.Errorf("tools = %v", names)
	}
}

func TestTools(t *testing.T) {
	srv := newServer(t)

	t.Run("format-duration", func(t *testing.T) {
		got, err := call(t, context.Background(), srv, "format-duration", `{"seconds":3725}`)
		if err != nil || got != "01:02:05" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("session-info reports the calling session", func(t *testing.T) {
		ctx := protocol.ContextWithSession(context.Background(), protocol.SessionInfo{ID: "abc", Transport: "sse"})
		got, err := call(t, ctx, srv, "session-info", `{}`)
		if err != nil {
			t.Fatal(err)
		}
		var info SessionInfo
		if err := json.Unmarshal([]byte(got), &info); err != nil {
			t.Fatal(err)
		}
		if info.SessionID != "abc" || info.Transport != "sse" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("session-info without a session fails", func(t *testing.T) {
		if _, err := call(t, context.Background(), srv, "session-info", `{}`); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("countdown reports progress", func(t *testing.T) {
		var sent []any
		notifier := protocol.NotifierFunc(func(_ context.Context, method string, params any) error {
			sent = append(sent, params)
			return nil
		})
		srv := newServer(t)
		ctx := protocol.ContextWithNotifier(context.Background(), notifier)

		req := &protocol.Request{
			JSONRPC: "2.0",
			ID:      json.RawMessage(`1`),
			Method:  protocol.MethodToolsCall,
			Params:  json.RawMessage(`{"name":"countdown","arguments":{"steps":3},"_meta":{"progressToken":"p"}}`),
		}
		resp, err := srv.HandleRequest(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Error != nil {
			t.Fatalf("error = %v", resp.Error)
		}
		if len(sent) != 3 {
			t.Errorf("progress notifications = %d", len(sent))
		}
	})

	t.Run("countdown rejects out of range steps", func(t *testing.T) {
		_, err := call(t, context.Background(), srv, "countdown", `{"steps":0}`)
		var rpcErr *protocol.Error
		if err == nil || !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeInvalidParams {
			t.Errorf("err = %v", err)
		}
	})
}
