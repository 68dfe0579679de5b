package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// Logger is the structured logging contract used across the module.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F creates a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// SessionFields returns the session id and transport kind carried by ctx.
func SessionFields(ctx context.Context) []Field {
	info, ok := protocol.SessionFromContext(ctx)
	if !ok {
		return nil
	}
	fields := []Field{F("transport", info.Transport)}
	if info.ID != "" {
		fields = append(fields, F("session_id", info.ID))
	}
	return fields
}

// Logging logs each request once it completes. Failures, including
// JSON-RPC error responses, are logged at error level.
func Logging(logger Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			fields := []Field{
				F("method", req.Method),
				F("duration", time.Since(start)),
			}
			if id := RequestIDFromContext(ctx); id != "" {
				fields = append(fields, F("request_id", id))
			}
			fields = append(fields, SessionFields(ctx)...)

			switch {
			case err != nil:
				fields = append(fields, F("error", err.Error()))
				logger.Error("request failed", fields...)
			case resp != nil && resp.Error != nil:
				fields = append(fields, F("error", resp.Error.Message), F("code", resp.Error.Code))
				logger.Error("request failed", fields...)
			case req.IsNotification():
				logger.Debug("notification handled", fields...)
			default:
				logger.Info("request completed", fields...)
			}
			return resp, err
		}
	}
}

// NopLogger discards all log entries.
type NopLogger struct{}

func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Warn(string, ...Field)  {}
