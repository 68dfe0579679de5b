// Package mcpmux serves one MCP server over stdio, streaming HTTP, legacy
// SSE and WebSocket at once, routing every message to the session that owns
// it.
//
// Basic usage:
//
//	srv := mcpmux.NewServer(mcpmux.ServerInfo{Name: "my-server", Version: "1.0.0"})
//	srv.Tool("echo").Handler(func(in EchoInput) (string, error) { return in.Text, nil })
//
//	cfg, _ := config.Load("")
//	err := mcpmux.Serve(ctx, srv, cfg, logger)
package mcpmux

import (
	"context"

	"github.com/felixgeelhaar/mcpmux/config"
	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/server"
	"github.com/felixgeelhaar/mcpmux/transport"
)

// ServerInfo contains server metadata exposed to clients.
type ServerInfo = server.Info

// Server is the MCP server shared by every session.
type Server = server.Server

// Option configures a Server.
type Option = server.Option

// Middleware wraps request handling.
type Middleware = middleware.Middleware

// Logger is the logging contract used across packages.
type Logger = middleware.Logger

// NewServer creates a new MCP server with the given info and options.
func NewServer(info ServerInfo, opts ...Option) *Server {
	return server.New(info, opts...)
}

// ServeOption configures how the server is run.
type ServeOption func(*serveOptions)

type serveOptions struct {
	middleware []Middleware
	logger     Logger
	otel       []middleware.OTelOption
	tracing    bool
	router     []transport.RouterOption
	stdio      []transport.StdioOption
}

// WithMiddleware adds middleware to the request handling chain.
func WithMiddleware(m ...Middleware) ServeOption {
	return func(o *serveOptions) { o.middleware = append(o.middleware, m...) }
}

// WithLogger sets the logger for transports and the default stack.
func WithLogger(l Logger) ServeOption {
	return func(o *serveOptions) { o.logger = l }
}

// WithTracing enables the OTel middleware in the stack Serve builds.
func WithTracing(opts ...middleware.OTelOption) ServeOption {
	return func(o *serveOptions) {
		o.tracing = true
		o.otel = append(o.otel, opts...)
	}
}

// WithRouterOptions passes options through to the HTTP router.
func WithRouterOptions(opts ...transport.RouterOption) ServeOption {
	return func(o *serveOptions) { o.router = append(o.router, opts...) }
}

// WithStdioOptions passes options through to the stdio transport.
func WithStdioOptions(opts ...transport.StdioOption) ServeOption {
	return func(o *serveOptions) { o.stdio = append(o.stdio, opts...) }
}

func collect(opts []ServeOption) *serveOptions {
	o := &serveOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = middleware.NopLogger{}
	}
	return o
}

// Handler adapts srv to a transport handler with the middleware from opts
// applied in order.
func Handler(srv *Server, opts ...ServeOption) transport.Handler {
	return handler(srv, collect(opts))
}

func handler(srv *Server, o *serveOptions) transport.Handler {
	h := middleware.HandlerFunc(srv.HandleRequest)
	if len(o.middleware) > 0 {
		h = middleware.Chain(o.middleware...)(h)
	}
	return transport.HandlerFunc(h)
}

// ServeStdio runs the server on stdin and stdout until EOF or ctx ends.
func ServeStdio(ctx context.Context, srv *Server, opts ...ServeOption) error {
	o := collect(opts)
	stdioOpts := append([]transport.StdioOption{transport.WithStdioLogger(o.logger)}, o.stdio...)
	return transport.NewStdio(stdioOpts...).Serve(ctx, handler(srv, o))
}

// ServeHTTP runs every HTTP transport on addr until ctx ends.
func ServeHTTP(ctx context.Context, srv *Server, addr string, opts ...ServeOption) error {
	o := collect(opts)
	routerOpts := append([]transport.RouterOption{transport.WithLogger(o.logger)}, o.router...)
	return transport.NewRouter(addr, routerOpts...).Serve(ctx, handler(srv, o))
}

// MiddlewareStack returns the production chain for cfg.
func MiddlewareStack(cfg config.Config, logger Logger, otel ...middleware.OTelOption) []Middleware {
	return middleware.Stack(middleware.StackOptions{
		Logger:      logger,
		Timeout:     cfg.RequestTimeout,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		Tracing:     len(otel) > 0,
		ServiceName: cfg.ServiceName,
		OTel:        otel,
	})
}

// RouterOptions maps cfg onto router options.
func RouterOptions(cfg config.Config, logger Logger) []transport.RouterOption {
	cors := transport.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		cors.AllowOrigins = cfg.CORSOrigins
	}
	return []transport.RouterOption{
		transport.WithLogger(logger),
		transport.WithCORS(cors),
		transport.WithMaxBodyBytes(cfg.MaxBodyBytes),
		transport.WithKeepAlive(cfg.KeepAlive),
		transport.WithSessionIdleTTL(cfg.SessionIdleTTL),
		transport.WithSessionSweepInterval(cfg.SessionSweepInterval),
		transport.WithShutdownTimeout(cfg.ShutdownTimeout),
		transport.WithWebSocket(cfg.EnableWebSocket),
	}
}

// NewRouter returns the HTTP router configured from cfg.
func NewRouter(cfg config.Config, logger Logger, opts ...transport.RouterOption) *transport.Router {
	return transport.NewRouter(cfg.Addr(), append(RouterOptions(cfg, logger), opts...)...)
}

// Serve runs srv on the transport cfg selects, with the production
// middleware stack in front of any middleware from opts. It blocks until
// ctx ends, or until EOF in stdio mode.
func Serve(ctx context.Context, srv *Server, cfg config.Config, logger Logger, opts ...ServeOption) error {
	if logger == nil {
		logger = middleware.NopLogger{}
	}
	o := collect(append([]ServeOption{WithLogger(logger)}, opts...))

	var otel []middleware.OTelOption
	if o.tracing {
		otel = append([]middleware.OTelOption{}, o.otel...)
		if len(otel) == 0 {
			otel = append(otel, middleware.WithOTelServiceName(cfg.ServiceName))
		}
	}
	o.middleware = append(MiddlewareStack(cfg, logger, otel...), o.middleware...)
	h := handler(srv, o)

	if cfg.IsStdio() {
		stdioOpts := append([]transport.StdioOption{
			transport.WithStdioLogger(logger),
			transport.WithMaxLineBytes(int(cfg.MaxBodyBytes)),
		}, o.stdio...)
		return transport.NewStdio(stdioOpts...).Serve(ctx, h)
	}
	return NewRouter(cfg, logger, o.router...).Serve(ctx, h)
}
