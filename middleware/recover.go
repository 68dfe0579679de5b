package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

// PanicHandler converts a recovered panic into a handler result.
type PanicHandler func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error)

// Recover converts panics into -32603 internal errors.
func Recover() Middleware {
	return RecoverWithHandler(internalErrorFromPanic)
}

// RecoverWithLogger is Recover that also logs the panic and stack.
func RecoverWithLogger(logger Logger) Middleware {
	return RecoverWithHandler(func(ctx context.Context, req *protocol.Request, v any) (*protocol.Response, error) {
		fields := append([]Field{
			F("method", req.Method),
			F("panic", fmt.Sprint(v)),
			F("stack", string(debug.Stack())),
		}, SessionFields(ctx)...)
		logger.Error("handler panicked", fields...)
		return internalErrorFromPanic(ctx, req, v)
	})
}

// RecoverWithHandler recovers panics and delegates to handler.
func RecoverWithHandler(handler PanicHandler) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = handler(ctx, req, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func internalErrorFromPanic(_ context.Context, _ *protocol.Request, v any) (*protocol.Response, error) {
	return nil, protocol.NewInternalError(fmt.Sprintf("panic: %v", v))
}
