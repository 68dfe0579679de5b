package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

func TestSession_Dispatch(t *testing.T) {
	t.Run("attaches session info", func(t *testing.T) {
		s := newSession("abc", KindSSE, echoHandler())
		resp := s.Dispatch(context.Background(), request("1", "whoami"))

		got := resp.Result.(map[string]string)
		if got["id"] != "abc" || got["transport"] != "sse" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("notifications and client responses produce nothing", func(t *testing.T) {
		s := newSession("abc", KindSSE, echoHandler())
		if resp := s.Dispatch(context.Background(), request("", "notifications/initialized")); resp != nil {
			t.Errorf("notification produced %v", resp)
		}
		clientResp := &protocol.Request{JSONRPC: "2.0", ID: json.RawMessage(`7`)}
		if resp := s.Dispatch(context.Background(), clientResp); resp != nil {
			t.Errorf("client response produced %v", resp)
		}
	})

	t.Run("handler errors become error responses", func(t *testing.T) {
		s := newSession("abc", KindSSE, echoHandler())
		resp := s.Dispatch(context.Background(), request("9", "nope"))
		if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
			t.Errorf("got %+v", resp)
		}
		if string(resp.ID) != "9" {
			t.Errorf("ID = %s", resp.ID)
		}

		s = newSession("abc", KindSSE, HandlerFunc(func(context.Context, *protocol.Request) (*protocol.Response, error) {
			return nil, errors.New("plain")
		}))
		if resp := s.Dispatch(context.Background(), request("1", "x")); resp.Error.Code != protocol.CodeInternalError {
			t.Errorf("got %+v", resp.Error)
		}
	})

	t.Run("marks session initialized", func(t *testing.T) {
		s := newSession("abc", KindStreamable, echoHandler())
		if s.Initialized() {
			t.Fatal("new session already initialized")
		}
		s.Dispatch(context.Background(), request("1", "initialize"))
		if !s.Initialized() {
			t.Error("expected initialized")
		}
	})

	t.Run("closing the session cancels in-flight work", func(t *testing.T) {
		s := newSession("abc", KindSSE, echoHandler())
		done := make(chan *protocol.Response, 1)
		go func() { done <- s.Dispatch(context.Background(), request("1", "block")) }()

		time.Sleep(20 * time.Millisecond)
		_ = s.Close()

		select {
		case resp := <-done:
			if resp.Error == nil {
				t.Error("expected cancellation error")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch not cancelled")
		}
	})

	t.Run("updates last seen", func(t *testing.T) {
		s := newSession("abc", KindStreamable, echoHandler())
		before := s.LastSeen()
		time.Sleep(2 * time.Millisecond)
		s.Dispatch(context.Background(), request("1", "ping"))
		if !s.LastSeen().After(before) {
			t.Error("last seen not updated")
		}
	})
}

func TestSession_Identity(t *testing.T) {
	before := time.Now()
	s := newSession("abc", KindWebSocket, echoHandler())

	if s.ID() != "abc" || s.Kind() != KindWebSocket {
		t.Errorf("identity = %s/%s", s.ID(), s.Kind())
	}
	if s.CreatedAt().Before(before) || !s.LastSeen().Equal(s.CreatedAt()) {
		t.Errorf("created %v last seen %v", s.CreatedAt(), s.LastSeen())
	}
	select {
	case <-s.Done():
		t.Fatal("done before close")
	default:
	}
	_ = s.Close()
	select {
	case <-s.Done():
	default:
		t.Error("done not closed")
	}
}

func TestSession_Close(t *testing.T) {
	s := newSession("abc", KindSSE, echoHandler())
	calls := 0
	s.OnClose(func() { calls++ })

	_ = s.Close()
	_ = s.Close()

	if calls != 1 {
		t.Errorf("hook ran %d times", calls)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}

	late := false
	s.OnClose(func() { late = true })
	if !late {
		t.Error("hook registered after close should run immediately")
	}
}
