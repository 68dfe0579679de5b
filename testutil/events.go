package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Event is one server-sent event. Comments are not reported.
type Event struct {
	Type string
	Data string
}

// EventReader parses a text/event-stream body.
type EventReader struct {
	lines chan string
	errc  chan error
	err   error
}

// NewEventReader starts reading r in the background.
func NewEventReader(r io.Reader) *EventReader {
	er := &EventReader{
		lines: make(chan string, 64),
		errc:  make(chan error, 1),
	}
	go readLines(r, er.lines, er.errc)
	return er
}

// Next returns the next event, io.EOF once the stream ends, or an error
// if nothing arrives within timeout.
func (r *EventReader) Next(timeout time.Duration) (Event, error) {
	if r.err != nil {
		return Event{}, r.err
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var ev Event
	var data []string
	for {
		select {
		case line, ok := <-r.lines:
			if !ok {
				r.err = <-r.errc
				return Event{}, r.err
			}
			switch {
			case line == "":
				if ev.Type == "" && len(data) == 0 {
					continue
				}
				ev.Data = strings.Join(data, "\n")
				if ev.Type == "" {
					ev.Type = "message"
				}
				return ev, nil
			case strings.HasPrefix(line, ":"):
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					ev.Type = value
				case "data":
					data = append(data, value)
				}
			}
		case <-deadline.C:
			return Event{}, errorf("no event within %s", timeout)
		}
	}
}

// JSON decodes the event data into v.
func (e Event) JSON(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// LegacyClient is a session on the legacy GET /sse + POST /messages pair.
type LegacyClient struct {
	t        testing.TB
	BaseURL  string
	Endpoint string
	Events   *EventReader

	resp *http.Response
}

// OpenLegacy connects to baseURL/sse and waits for the endpoint event.
func OpenLegacy(t testing.TB, baseURL string) *LegacyClient {
	t.Helper()
	baseURL = strings.TrimRight(baseURL, "/")
	resp, err := http.Get(baseURL + "/sse")
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("GET /sse: status %d", resp.StatusCode)
	}

	c := &LegacyClient{t: t, BaseURL: baseURL, Events: NewEventReader(resp.Body), resp: resp}
	ev, err := c.Events.Next(DefaultTimeout)
	if err != nil {
		t.Fatalf("endpoint event: %v", err)
	}
	if ev.Type != "endpoint" {
		t.Fatalf("first event = %q, want endpoint", ev.Type)
	}
	c.Endpoint = ev.Data
	t.Cleanup(c.Close)
	return c
}

// SessionID returns the id announced in the endpoint event.
func (c *LegacyClient) SessionID() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return ""
	}
	return u.Query().Get("sessionId")
}

// Send posts a raw message to the announced endpoint.
func (c *LegacyClient) Send(body string) *http.Response {
	c.t.Helper()
	resp, err := http.Post(c.BaseURL+c.Endpoint, "application/json", strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("POST %s: %v", c.Endpoint, err)
	}
	return resp
}

// Call posts a request and waits for the matching message event.
func (c *LegacyClient) Call(id int, method string, params any) *protocol.Response {
	c.t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	resp := c.Send(MustJSON(c.t, msg))
	body := Body(c.t, resp)
	if resp.StatusCode != http.StatusAccepted {
		c.t.Fatalf("POST status %d: %s", resp.StatusCode, body)
	}
	return c.Response()
}

// Response waits for the next message event carrying a response.
func (c *LegacyClient) Response() *protocol.Response {
	c.t.Helper()
	for {
		ev, err := c.Events.Next(DefaultTimeout)
		if err != nil {
			c.t.Fatalf("read response: %v", err)
		}
		var probe struct {
			Method string `json:"method"`
		}
		if ev.Type != "message" || ev.JSON(&probe) != nil || probe.Method != "" {
			continue
		}
		var rpc protocol.Response
		if err := ev.JSON(&rpc); err != nil {
			c.t.Fatalf("decode %q: %v", ev.Data, err)
		}
		return &rpc
	}
}

// Close disconnects the stream.
func (c *LegacyClient) Close() {
	_ = c.resp.Body.Close()
}
