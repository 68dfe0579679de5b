package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Transport            string   `toml:"transport"`
	Host                 string   `toml:"host"`
	Port                 int      `toml:"port"`
	SessionIdleTTL       string   `toml:"session_idle_ttl"`
	SessionSweepInterval string   `toml:"session_sweep_interval"`
	KeepAlive            string   `toml:"keep_alive"`
	RequestTimeout       string   `toml:"request_timeout"`
	ShutdownTimeout      string   `toml:"shutdown_timeout"`
	MaxBodyBytes         int64    `toml:"max_body_bytes"`
	CORSOrigins          []string `toml:"cors_origins"`
	RateLimit            int      `toml:"rate_limit"`
	RateBurst            int      `toml:"rate_burst"`
	EnableWebSocket      bool     `toml:"enable_websocket"`
	LogLevel             string   `toml:"log_level"`
	LogFormat            string   `toml:"log_format"`
	ServiceName          string   `toml:"service_name"`
	OTelEndpoint         string   `toml:"otel_endpoint"`
}

// applyFile overlays the keys defined in the TOML file at path onto cfg.
func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session_idle_ttl", raw.SessionIdleTTL, &cfg.SessionIdleTTL},
		{"session_sweep_interval", raw.SessionSweepInterval, &cfg.SessionSweepInterval},
		{"keep_alive", raw.KeepAlive, &cfg.KeepAlive},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_body_bytes") {
		cfg.MaxBodyBytes = raw.MaxBodyBytes
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("enable_websocket") {
		cfg.EnableWebSocket = raw.EnableWebSocket
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("service_name") {
		cfg.ServiceName = strings.TrimSpace(raw.ServiceName)
	}
	if meta.IsDefined("otel_endpoint") {
		cfg.OTelEndpoint = strings.TrimSpace(raw.OTelEndpoint)
	}
	return nil
}
