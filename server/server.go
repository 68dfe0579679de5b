package server

import (
	"sort"
	"sync"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Info contains server metadata exposed to clients.
type Info struct {
	Name         string
	Version      string
	Instructions string
	Capabilities Capabilities
}

// Capabilities declares what features the server supports.
type Capabilities struct {
	Tools bool
}

// Manifest is what the server reports during initialization.
type Manifest struct {
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema"`
}

// Option configures a Server.
type Option func(*Server)

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) {
		s.info.Instructions = text
	}
}

// Server is the transport-agnostic service core. A single Server is shared
// by every session on every transport; per-session state travels in the
// request context.
type Server struct {
	mu sync.RWMutex

	info  Info
	tools map[string]*Tool
}

// New creates a server with the given info and options.
func New(info Info, opts ...Option) *Server {
	s := &Server{
		info:  info,
		tools: make(map[string]*Tool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info returns the server info.
func (s *Server) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Tool starts building a new tool with the given name.
func (s *Server) Tool(name string) *ToolBuilder {
	return &ToolBuilder{
		tool:   &Tool{name: name},
		server: s,
	}
}

// Tools returns the registered tools sorted by name.
func (s *Server) Tools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, ToolInfo{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.inputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetTool retrieves a tool by name.
func (s *Server) GetTool(name string) (*Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Manifest returns the server manifest for initialization. The tools
// capability is advertised whenever a tool is registered.
func (s *Server) Manifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	caps := s.info.Capabilities
	if len(s.tools) > 0 {
		caps.Tools = true
	}
	return Manifest{
		Name:            s.info.Name,
		Version:         s.info.Version,
		ProtocolVersion: protocol.MCPVersion,
		Capabilities:    caps,
	}
}

func (s *Server) registerTool(t *Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.name] = t
}
