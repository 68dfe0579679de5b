package mcpmux

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/config"
	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/protocol"
	"github.com/felixgeelhaar/mcpmux/testutil"
	"github.com/felixgeelhaar/mcpmux/transport"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"required"`
}

func newEchoServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(ServerInfo{Name: "test-server", Version: "1.0.0"})
	b := srv.Tool("echo").Description("Echo text").Handler(func(in echoInput) (string, error) {
		return in.Text, nil
	})
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestNewServer(t *testing.T) {
	srv := NewServer(ServerInfo{Name: "test-server", Version: "1.0.0"})
	if info := srv.Info(); info.Name != "test-server" {
		t.Errorf("Name = %q", info.Name)
	}
}

func TestHandler(t *testing.T) {
	t.Run("applies middleware in order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next middleware.HandlerFunc) middleware.HandlerFunc {
				return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}
		h := Handler(newEchoServer(t), WithMiddleware(mark("a"), mark("b")))

		req := &protocol.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: protocol.MethodPing}
		resp, err := h.HandleRequest(context.Background(), req)
		if err != nil || resp == nil {
			t.Fatalf("resp %v, err %v", resp, err)
		}
		if strings.Join(order, "") != "ab" {
			t.Errorf("order = %v", order)
		}
	})
}

func TestServeStdio(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}` + "\n")
	out := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ServeStdio(ctx, newEchoServer(t), WithStdioOptions(transport.WithStdin(in), transport.WithStdout(out)))
	if err != nil {
		t.Fatalf("ServeStdio() = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(lines[0], `"protocolVersion":"2025-03-26"`) {
		t.Errorf("initialize = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"text":"hi"`) {
		t.Errorf("tools/call = %s", lines[1])
	}
}

func TestServe_Stdio(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.TransportStdio
	out := &bytes.Buffer{}

	err := Serve(context.Background(), newEchoServer(t), cfg, nil,
		WithStdioOptions(transport.WithStdin(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")), transport.WithStdout(out)))
	if err != nil {
		t.Fatalf("Serve() = %v", err)
	}
	if !strings.Contains(out.String(), `"id":1`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestNewRouter(t *testing.T) {
	cfg := config.Default()
	cfg.EnableWebSocket = true
	cfg.CORSOrigins = []string{"https://app.example"}

	r := NewRouter(cfg, nil)
	if r.Addr() != ":3000" {
		t.Errorf("Addr() = %q", r.Addr())
	}

	ts := httptest.NewServer(r.Handler(Handler(newEchoServer(t), WithMiddleware(MiddlewareStack(cfg, middleware.NopLogger{})...))))
	defer ts.Close()

	c := testutil.NewHTTPClient(t, ts.URL)
	c.Initialize()
	rpc, _ := c.Call(protocol.MethodToolsCall, map[string]any{"name": "echo", "arguments": map[string]any{"text": "routed"}})
	if got := testutil.ToolText(t, rpc); got != "routed" {
		t.Errorf("tool text = %q", got)
	}
}

func TestMiddlewareStack(t *testing.T) {
	cfg := config.Default()
	if n := len(MiddlewareStack(cfg, nil)); n != 4 {
		t.Errorf("default stack has %d entries", n)
	}
	cfg.RateLimit = 10
	cfg.RequestTimeout = 0
	if n := len(MiddlewareStack(cfg, nil, middleware.WithOTelServiceName("x"))); n != 5 {
		t.Errorf("stack with tracing and rate limit has %d entries", n)
	}
}
