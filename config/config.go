// Package config loads mcpmux settings from defaults, an optional TOML
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport names accepted by Config.Transport.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config is the process configuration.
type Config struct {
	Transport string `env:"TRANSPORT"`
	Host      string `env:"MCP_HOST"`
	Port      int    `env:"PORT"`

	SessionIdleTTL       time.Duration `env:"MCP_SESSION_IDLE_TTL"`
	SessionSweepInterval time.Duration `env:"MCP_SESSION_SWEEP_INTERVAL"`
	KeepAlive            time.Duration `env:"MCP_SSE_KEEP_ALIVE"`
	RequestTimeout       time.Duration `env:"MCP_REQUEST_TIMEOUT"`
	ShutdownTimeout      time.Duration `env:"MCP_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes         int64         `env:"MCP_MAX_BODY_BYTES"`

	CORSOrigins     []string `env:"MCP_CORS_ORIGINS" envSeparator:","`
	RateLimit       int      `env:"MCP_RATE_LIMIT"`
	RateBurst       int      `env:"MCP_RATE_BURST"`
	EnableWebSocket bool     `env:"MCP_ENABLE_WEBSOCKET"`

	LogLevel    string `env:"MCP_LOG_LEVEL"`
	LogFormat   string `env:"MCP_LOG_FORMAT"`
	ServiceName string `env:"MCP_SERVICE_NAME"`

	// OTelEndpoint is the base URL of an OTLP/HTTP collector.
	OTelEndpoint string `env:"MCP_OTEL_ENDPOINT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Transport:            TransportHTTP,
		Port:                 3000,
		SessionIdleTTL:       30 * time.Minute,
		SessionSweepInterval: time.Minute,
		KeepAlive:            30 * time.Second,
		RequestTimeout:       60 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		MaxBodyBytes:         4 << 20,
		CORSOrigins:          []string{"*"},
		LogLevel:             "info",
		LogFormat:            "json",
		ServiceName:          "mcpmux",
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsStdio reports whether the stdio transport is selected.
func (c Config) IsStdio() bool {
	return strings.EqualFold(c.Transport, TransportStdio)
}

// Validate checks the configuration for values the router cannot use.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Transport) {
	case TransportHTTP, TransportStdio:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session_idle_ttl", c.SessionIdleTTL},
		{"session_sweep_interval", c.SessionSweepInterval},
		{"keep_alive", c.KeepAlive},
		{"request_timeout", c.RequestTimeout},
		{"shutdown_timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.OTelEndpoint != "" {
		if u, err := url.Parse(c.OTelEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("otel_endpoint %q is not an http(s) URL", c.OTelEndpoint))
		}
	}
	return errors.Join(errs...)
}

// LoadOption configures Load.
type LoadOption func(*loader)

type loader struct {
	envFile string
	environ map[string]string
}

// WithEnvFile reads dotenv variables from name instead of ".env". An empty
// name skips the file.
func WithEnvFile(name string) LoadOption {
	return func(l *loader) { l.envFile = name }
}

// WithEnviron replaces the process environment as the source of overrides.
func WithEnviron(vars map[string]string) LoadOption {
	return func(l *loader) { l.environ = vars }
}

// Load builds the configuration. path names an optional TOML file; an empty
// path skips it. A missing .env file is ignored. Variables already set in
// the environment win over .env entries.
func Load(path string, opts ...LoadOption) (Config, error) {
	l := loader{envFile: ".env"}
	for _, opt := range opts {
		opt(&l)
	}

	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	vars, err := l.environment()
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// environment merges the dotenv file beneath the process (or injected)
// environment.
func (l loader) environment() (map[string]string, error) {
	vars := map[string]string{}
	if l.envFile != "" {
		dotenv, err := godotenv.Read(l.envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", l.envFile, err)
		}
		for k, v := range dotenv {
			vars[k] = v
		}
	}

	if l.environ != nil {
		for k, v := range l.environ {
			vars[k] = v
		}
		return vars, nil
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars, nil
}
