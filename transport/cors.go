package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// CORSConfig configures CORS for the HTTP router.
type CORSConfig struct {
	// AllowOrigins lists allowed origins; "*" allows any.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

// DefaultCORSConfig allows any origin and lets browsers send and read the
// session header.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", protocol.HeaderSessionID},
		ExposeHeaders: []string{protocol.HeaderSessionID},
		MaxAge:        86400,
	}
}

// CORSHandler wraps next with CORS headers and answers preflight requests.
func CORSHandler(config CORSConfig, next http.Handler) http.Handler {
	def := DefaultCORSConfig()
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = def.AllowOrigins
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = def.AllowMethods
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = def.AllowHeaders
	}
	if len(config.ExposeHeaders) == 0 {
		config.ExposeHeaders = def.ExposeHeaders
	}

	allowAll := false
	allowed := make(map[string]bool, len(config.AllowOrigins))
	for _, o := range config.AllowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	methods := strings.Join(config.AllowMethods, ", ")
	headers := strings.Join(config.AllowHeaders, ", ")
	expose := strings.Join(config.ExposeHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		var allowOrigin string
		switch {
		case allowAll && !config.AllowCredentials:
			allowOrigin = "*"
		case origin != "" && (allowAll || allowed[origin]):
			allowOrigin = origin
			w.Header().Add("Vary", "Origin")
		}

		if allowOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			h.Set("Access-Control-Expose-Headers", expose)
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
