// Package testutil drives a running mcpmux HTTP endpoint from tests: a
// streaming-HTTP client that tracks the session header, a legacy SSE
// client, and an event stream reader.
//
//	ts := httptest.NewServer(router.Handler(srv))
//	c := testutil.NewHTTPClient(t, ts.URL)
//	c.Initialize()
//	resp, _ := c.Call("tools/list", nil)
package testutil

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 5 * time.Second

// HTTPClient speaks JSON-RPC to the streaming-HTTP endpoint. It remembers
// the session id the server hands out and sends it on later requests.
type HTTPClient struct {
	t       testing.TB
	BaseURL string
	Path    string
	HTTP    *http.Client

	mu        sync.Mutex
	sessionID string
	nextID    atomic.Int64
}

// NewHTTPClient returns a client for baseURL + "/mcp".
func NewHTTPClient(t testing.TB, baseURL string) *HTTPClient {
	t.Helper()
	return &HTTPClient{
		t:       t,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    "/mcp",
		HTTP:    &http.Client{},
	}
}

// SessionID returns the tracked session id.
func (c *HTTPClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID overrides the tracked session id; "" sends no header.
func (c *HTTPClient) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Do sends a request to the endpoint with the session header attached.
// A session id in the response is remembered.
func (c *HTTPClient) Do(method, body string, header http.Header) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.BaseURL+c.Path, strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if id := c.SessionID(); id != "" && req.Header.Get(protocol.HeaderSessionID) == "" {
		req.Header.Set(protocol.HeaderSessionID, id)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, c.Path, err)
	}
	if id := resp.Header.Get(protocol.HeaderSessionID); id != "" {
		c.SetSessionID(id)
	}
	return resp
}

// Post sends a raw JSON body.
func (c *HTTPClient) Post(body string) *http.Response {
	c.t.Helper()
	return c.Do(http.MethodPost, body, nil)
}

// Request marshals a JSON-RPC request with a fresh numeric id.
func (c *HTTPClient) Request(method string, params any) string {
	c.t.Helper()
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	return string(data)
}

// Call sends a request in JSON mode and decodes the response. The raw
// HTTP response is returned with its body already consumed.
func (c *HTTPClient) Call(method string, params any) (*protocol.Response, *http.Response) {
	c.t.Helper()
	resp := c.Do(http.MethodPost, c.Request(method, params), http.Header{"Accept": {"application/json"}})
	return DecodeResponse(c.t, resp), resp
}

// Initialize starts a session, failing the test on error.
func (c *HTTPClient) Initialize() *protocol.Response {
	c.t.Helper()
	rpc, resp := c.Call(protocol.MethodInitialize, map[string]any{
		"protocolVersion": protocol.MCPVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "testutil", "version": "0.0.0"},
	})
	if resp.StatusCode != http.StatusOK || rpc.Error != nil {
		c.t.Fatalf("initialize: status %d, error %v", resp.StatusCode, rpc.Error)
	}
	if c.SessionID() == "" {
		c.t.Fatal("initialize: no session id returned")
	}
	return rpc
}

// Notify sends a notification and returns the HTTP response.
func (c *HTTPClient) Notify(method string, params any) *http.Response {
	c.t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, _ := json.Marshal(msg)
	resp := c.Post(string(data))
	_ = resp.Body.Close()
	return resp
}

// Delete terminates the tracked session.
func (c *HTTPClient) Delete() *http.Response {
	c.t.Helper()
	resp := c.Do(http.MethodDelete, "", nil)
	_ = resp.Body.Close()
	return resp
}

// Stream sends a request that the server may answer with an event stream
// and returns every event until the stream ends.
func (c *HTTPClient) Stream(method string, params any) ([]Event, *http.Response) {
	c.t.Helper()
	resp := c.Do(http.MethodPost, c.Request(method, params), nil)
	defer resp.Body.Close()

	r := NewEventReader(resp.Body)
	var events []Event
	for {
		ev, err := r.Next(DefaultTimeout)
		if errors.Is(err, io.EOF) {
			return events, resp
		}
		if err != nil {
			c.t.Fatalf("read stream: %v", err)
		}
		events = append(events, ev)
	}
}

// OpenStream opens the standalone GET stream for the tracked session.
func (c *HTTPClient) OpenStream() (*http.Response, *EventReader) {
	c.t.Helper()
	resp := c.Do(http.MethodGet, "", http.Header{"Accept": {"text/event-stream"}})
	return resp, NewEventReader(resp.Body)
}

// DecodeResponse reads a JSON-RPC response body and closes it.
func DecodeResponse(t testing.TB, resp *http.Response) *protocol.Response {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var rpc protocol.Response
	if err := json.Unmarshal(data, &rpc); err != nil {
		t.Fatalf("decode response %q: %v", data, err)
	}
	return &rpc
}

// Body reads and closes resp.Body.
func Body(t testing.TB, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

// ResultMap re-decodes a response result as a JSON object.
func ResultMap(t testing.TB, rpc *protocol.Response) map[string]any {
	t.Helper()
	if rpc.Error != nil {
		t.Fatalf("unexpected error response: %v", rpc.Error)
	}
	data, _ := json.Marshal(rpc.Result)
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("result is not an object: %s", data)
	}
	return m
}

// ToolText returns the first text content item of a tools/call result.
func ToolText(t testing.TB, rpc *protocol.Response) string {
	t.Helper()
	content, _ := ResultMap(t, rpc)["content"].([]any)
	if len(content) == 0 {
		t.Fatalf("no content in %v", rpc.Result)
	}
	item, _ := content[0].(map[string]any)
	text, _ := item["text"].(string)
	return text
}

// MustJSON marshals v or fails the test.
func MustJSON(t testing.TB, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("testutil: "+format, args...)
}

// readLines feeds scanner lines into a channel until EOF.
func readLines(r io.Reader, out chan<- string, errc chan<- error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		out <- sc.Text()
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	errc <- err
	close(out)
}
