package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// echoHandler answers initialize and ping, echoes "echo" params, reports
// the caller's session for "whoami" and sends one progress notification
// for "progress".
func echoHandler() HandlerFunc {
	return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		switch req.Method {
		case protocol.MethodInitialize:
			return protocol.NewResponse(req.ID, map[string]any{"protocolVersion": protocol.MCPVersion}), nil
		case protocol.MethodPing:
			return protocol.NewResponse(req.ID, map[string]any{}), nil
		case "echo":
			return protocol.NewResponse(req.ID, req.Params), nil
		case "whoami":
			info, _ := protocol.SessionFromContext(ctx)
			return protocol.NewResponse(req.ID, map[string]string{"id": info.ID, "transport": info.Transport}), nil
		case "progress":
			if n := protocol.NotifierFromContext(ctx); n != nil {
				_ = n.Notify(ctx, protocol.MethodProgress, map[string]any{"progressToken": "t", "progress": 1})
			}
			return protocol.NewResponse(req.ID, "done"), nil
		case "block":
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if req.IsNotification() {
			return nil, nil
		}
		return nil, protocol.NewMethodNotFound(req.Method)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestServer(t *testing.T, h Handler, opts ...RouterOption) (*Router, *httptest.Server) {
	t.Helper()
	r := NewRouter("127.0.0.1:0", opts...)
	ts := httptest.NewServer(r.Handler(h))
	t.Cleanup(func() {
		r.Registry().CloseAll()
		ts.Close()
	})
	return r, ts
}

func request(id, method string) *protocol.Request {
	req := &protocol.Request{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	return req
}

// fakeConn is a registry entry without a transport behind it.
type fakeConn struct {
	id   string
	kind Kind

	once sync.Once
	done chan struct{}
}

func newFakeConn(kind Kind, id string) *fakeConn {
	return &fakeConn{id: id, kind: kind, done: make(chan struct{})}
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) Kind() Kind            { return c.kind }
func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
