package server

import (
	"testing"
)

func TestNewServer(t *testing.T) {
	t.Run("creates server with info", func(t *testing.T) {
		srv := New(Info{Name: "test-server", Version: "1.0.0"})

		info := srv.Info()
		if info.Name != "test-server" {
			t.Errorf("Name = %q, want %q", info.Name, "test-server")
		}
		if info.Version != "1.0.0" {
			t.Errorf("Version = %q, want %q", info.Version, "1.0.0")
		}
	})

	t.Run("applies options", func(t *testing.T) {
		srv := New(Info{Name: "test"}, WithInstructions("use the tools"))
		if srv.Info().Instructions != "use the tools" {
			t.Errorf("Instructions = %q", srv.Info().Instructions)
		}
	})
}

func TestServer_Manifest(t *testing.T) {
	t.Run("reports protocol version", func(t *testing.T) {
		m := New(Info{Name: "test", Version: "2.0.0"}).Manifest()
		if m.ProtocolVersion != "2025-03-26" {
			t.Errorf("ProtocolVersion = %q", m.ProtocolVersion)
		}
		if m.Capabilities.Tools {
			t.Error("expected no tools capability without tools")
		}
	})

	t.Run("advertises tools once registered", func(t *testing.T) {
		srv := New(Info{Name: "test"})
		srv.Tool("noop").Handler(func(struct{}) (string, error) { return "", nil })

		if !srv.Manifest().Capabilities.Tools {
			t.Error("expected tools capability")
		}
	})
}

func TestServer_Tools(t *testing.T) {
	t.Run("lists tools sorted by name", func(t *testing.T) {
		srv := New(Info{Name: "test"})
		for _, name := range []string{"zeta", "alpha", "mid"} {
			srv.Tool(name).Handler(func(struct{}) (string, error) { return "", nil })
		}

		tools := srv.Tools()
		if len(tools) != 3 {
			t.Fatalf("expected 3 tools, got %d", len(tools))
		}
		if tools[0].Name != "alpha" || tools[2].Name != "zeta" {
			t.Errorf("unexpected order: %v", tools)
		}
	})
}
