package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/config"
	"github.com/felixgeelhaar/mcpmux/protocol"
	"github.com/felixgeelhaar/mcpmux/testutil"
	"github.com/felixgeelhaar/mcpmux/tools"
	"github.com/felixgeelhaar/mcpmux/transport"
)

func sessionInfo(t *testing.T, rpc *protocol.Response) tools.SessionInfo {
	t.Helper()
	var info tools.SessionInfo
	if err := json.Unmarshal([]byte(testutil.ToolText(t, rpc)), &info); err != nil {
		t.Fatalf("decode session-info: %v", err)
	}
	return info
}

func TestStreamableSession(t *testing.T) {
	t.Run("initialize issues an id that later requests reuse", func(t *testing.T) {
		s := newStack(t)
		c := testutil.NewHTTPClient(t, s.server.URL)

		init := c.Initialize()
		if testutil.ResultMap(t, init)["protocolVersion"] != protocol.MCPVersion {
			t.Errorf("initialize = %v", init.Result)
		}
		s1 := c.SessionID()

		rpc, resp := c.Call(protocol.MethodToolsCall, map[string]any{"name": "session-info"})
		if got := resp.Header.Get(protocol.HeaderSessionID); got != s1 {
			t.Errorf("session header = %q, want %q", got, s1)
		}
		info := sessionInfo(t, rpc)
		if info.SessionID != s1 || info.Transport != string(transport.KindStreamable) {
			t.Errorf("session-info = %+v", info)
		}
		if s.live(transport.KindStreamable) != 1 {
			t.Errorf("live sessions = %d", s.live(transport.KindStreamable))
		}
	})

	t.Run("concurrent initializations get distinct ids", func(t *testing.T) {
		s := newStack(t)
		const n = 32

		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := testutil.NewHTTPClient(t, s.server.URL)
				rpc, resp := c.Call(protocol.MethodInitialize, nil)
				if resp.StatusCode != http.StatusOK || rpc.Error != nil {
					t.Errorf("initialize %d: status %d", i, resp.StatusCode)
					return
				}
				ids[i] = c.SessionID()
			}(i)
		}
		wg.Wait()

		seen := map[string]bool{}
		for _, id := range ids {
			if id == "" || seen[id] {
				t.Fatalf("duplicate or empty id %q", id)
			}
			seen[id] = true
		}
		if s.live(transport.KindStreamable) != n {
			t.Errorf("live sessions = %d", s.live(transport.KindStreamable))
		}
	})

	t.Run("non-initialize request without a session is rejected", func(t *testing.T) {
		s := newStack(t)
		c := testutil.NewHTTPClient(t, s.server.URL)

		resp := c.Post(c.Request(protocol.MethodToolsList, nil))
		rpc := testutil.DecodeResponse(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
		if rpc.Error == nil || rpc.Error.Code != protocol.CodeServerError || rpc.Error.Message != protocol.InvalidSessionMessage {
			t.Errorf("error = %v", rpc.Error)
		}
		if string(rpc.ID) != "null" {
			t.Errorf("id = %s", rpc.ID)
		}
		if s.live(transport.KindStreamable) != 0 {
			t.Error("registry mutated")
		}
	})

	t.Run("progress streams over SSE when requested", func(t *testing.T) {
		s := newStack(t)
		c := testutil.NewHTTPClient(t, s.server.URL)
		c.Initialize()

		events, _ := c.Stream(protocol.MethodToolsCall, map[string]any{
			"name":      "countdown",
			"arguments": map[string]any{"steps": 3},
			"_meta":     map[string]any{"progressToken": "launch"},
		})
		if len(events) != 4 {
			t.Fatalf("events = %d", len(events))
		}
		for _, ev := range events[:3] {
			var n protocol.Notification
			if err := ev.JSON(&n); err != nil || n.Method != protocol.MethodProgress {
				t.Errorf("event %s", ev.Data)
			}
		}
		var final protocol.Response
		if err := events[3].JSON(&final); err != nil || final.Error != nil {
			t.Fatalf("final = %s", events[3].Data)
		}
		if !strings.Contains(events[3].Data, "liftoff") {
			t.Errorf("final = %s", events[3].Data)
		}
	})

	t.Run("deleted session is gone exactly once", func(t *testing.T) {
		s := newStack(t)
		c := testutil.NewHTTPClient(t, s.server.URL)
		c.Initialize()
		id := c.SessionID()

		if resp := c.Delete(); resp.StatusCode != http.StatusOK {
			t.Fatalf("delete status = %d", resp.StatusCode)
		}
		eventually(t, func() bool { return s.live(transport.KindStreamable) == 0 })
		if s.router.Registry().Remove(transport.KindStreamable, id) {
			t.Error("second removal reported success")
		}
		if resp := c.Delete(); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("second delete status = %d", resp.StatusCode)
		}
	})
}

func TestLegacySession(t *testing.T) {
	t.Run("messages round-trip to the owning stream in order", func(t *testing.T) {
		s := newStack(t)
		a := testutil.OpenLegacy(t, s.server.URL)
		b := testutil.OpenLegacy(t, s.server.URL)
		if a.SessionID() == b.SessionID() {
			t.Fatal("sessions share an id")
		}

		for i := 1; i <= 5; i++ {
			resp := a.Send(testutil.MustJSON(t, map[string]any{
				"jsonrpc": "2.0", "id": i, "method": protocol.MethodToolsCall,
				"params": map[string]any{"name": "format-duration", "arguments": map[string]any{"seconds": i * 3600}},
			}))
			_ = testutil.Body(t, resp)
		}
		for i := 1; i <= 5; i++ {
			rpc := a.Response()
			if string(rpc.ID) != strings.TrimSpace(testutil.MustJSON(t, i)) {
				t.Fatalf("response %d has id %s", i, rpc.ID)
			}
		}

		info := sessionInfo(t, b.Call(1, protocol.MethodToolsCall, map[string]any{"name": "session-info"}))
		if info.SessionID != b.SessionID() || info.Transport != string(transport.KindSSE) {
			t.Errorf("session-info = %+v", info)
		}
	})

	t.Run("bogus session id", func(t *testing.T) {
		s := newStack(t)
		testutil.OpenLegacy(t, s.server.URL)

		resp, err := http.Post(s.server.URL+"/messages?sessionId=bogus", "application/json",
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			t.Fatal(err)
		}
		body := testutil.Body(t, resp)
		if resp.StatusCode != http.StatusBadRequest || body != "No transport found for sessionId" {
			t.Errorf("status %d body %q", resp.StatusCode, body)
		}
		if s.live(transport.KindSSE) != 1 {
			t.Error("registry mutated")
		}
	})

	t.Run("closing the stream removes the session", func(t *testing.T) {
		s := newStack(t)
		c := testutil.OpenLegacy(t, s.server.URL)
		c.Close()
		eventually(t, func() bool { return s.live(transport.KindSSE) == 0 })

		resp := c.Send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
		if body := testutil.Body(t, resp); resp.StatusCode != http.StatusBadRequest || body != "No transport found for sessionId" {
			t.Errorf("status %d body %q", resp.StatusCode, body)
		}
	})
}

func TestTransportsAreIsolated(t *testing.T) {
	s := newStack(t)
	legacy := testutil.OpenLegacy(t, s.server.URL)

	c := testutil.NewHTTPClient(t, s.server.URL)
	c.SetSessionID(legacy.SessionID())
	resp := c.Post(c.Request(protocol.MethodPing, nil))
	_ = testutil.Body(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("legacy id accepted on /mcp: status %d", resp.StatusCode)
	}
}

func TestIdleEviction(t *testing.T) {
	s := newStack(t, func(c *config.Config) {
		c.SessionIdleTTL = 1
	})
	c := testutil.NewHTTPClient(t, s.server.URL)
	c.Initialize()
	legacy := testutil.OpenLegacy(t, s.server.URL)

	s.router.Manager().Sweep(time.Now().Add(time.Minute))

	eventually(t, func() bool { return s.live(transport.KindStreamable) == 0 })
	if s.live(transport.KindSSE) != 1 {
		t.Error("legacy session evicted")
	}
	if _, ok := s.router.Registry().Lookup(transport.KindSSE, legacy.SessionID()); !ok {
		t.Error("legacy session no longer resolves")
	}
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	testutil.NewHTTPClient(t, s.server.URL).Initialize()

	resp, err := http.Get(s.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Status   string         `json:"status"`
		Sessions map[string]int `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if body.Status != "ok" || body.Sessions[string(transport.KindStreamable)] != 1 {
		t.Errorf("health = %+v", body)
	}
}
