package e2e

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcpmux"
	"github.com/felixgeelhaar/mcpmux/config"
	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/tools"
	"github.com/felixgeelhaar/mcpmux/transport"
)

type stack struct {
	router *transport.Router
	server *httptest.Server
}

func newStack(t *testing.T, mutate ...func(*config.Config)) *stack {
	t.Helper()
	cfg := config.Default()
	cfg.EnableWebSocket = true
	cfg.KeepAlive = time.Hour
	for _, m := range mutate {
		m(&cfg)
	}

	srv := mcpmux.NewServer(mcpmux.ServerInfo{Name: "e2e", Version: "0.0.0"})
	if err := tools.Register(srv); err != nil {
		t.Fatal(err)
	}
	logger := middleware.NopLogger{}
	router := mcpmux.NewRouter(cfg, logger)
	h := mcpmux.Handler(srv, mcpmux.WithMiddleware(mcpmux.MiddlewareStack(cfg, logger)...))

	ts := httptest.NewServer(router.Handler(h))
	t.Cleanup(func() {
		router.Registry().CloseAll()
		ts.Close()
	})
	return &stack{router: router, server: ts}
}

func (s *stack) live(kind transport.Kind) int {
	return s.router.Registry().Len(kind)
}

func eventually(t *testing.T, cond func() bool) {
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
