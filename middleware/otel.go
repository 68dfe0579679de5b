package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/mcpmux/protocol"
)

const instrumentationName = "github.com/felixgeelhaar/mcpmux"

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*otelConfig)

type otelConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	skipMethods    map[string]bool
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) { c.meterProvider = mp }
}

// WithOTelServiceName sets the service.name attribute.
func WithOTelServiceName(name string) OTelOption {
	return func(c *otelConfig) { c.serviceName = name }
}

// WithOTelSkipMethods disables instrumentation for the given methods.
func WithOTelSkipMethods(methods ...string) OTelOption {
	return func(c *otelConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// OTel records a server span plus request, error and latency metrics for
// each request. Spans and metrics carry the transport kind; spans also carry
// the session id, which is kept off metrics to bound cardinality.
func OTel(opts ...OTelOption) Middleware {
	cfg := &otelConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		serviceName:    "mcpmux",
		skipMethods:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tracer := cfg.tracerProvider.Tracer(instrumentationName)
	meter := cfg.meterProvider.Meter(instrumentationName)

	requests, _ := meter.Int64Counter("mcp.server.requests",
		metric.WithDescription("Total number of MCP requests"),
		metric.WithUnit("{request}"))
	failures, _ := meter.Int64Counter("mcp.server.errors",
		metric.WithDescription("Total number of failed MCP requests"),
		metric.WithUnit("{error}"))
	latency, _ := meter.Float64Histogram("mcp.server.request.duration",
		metric.WithDescription("Duration of MCP requests"),
		metric.WithUnit("ms"))

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if cfg.skipMethods[req.Method] {
				return next(ctx, req)
			}

			attrs := []attribute.KeyValue{
				attribute.String("mcp.method", req.Method),
				attribute.String("service.name", cfg.serviceName),
			}
			spanAttrs := attrs
			if info, ok := protocol.SessionFromContext(ctx); ok {
				attrs = append(attrs, attribute.String("mcp.transport", info.Transport))
				spanAttrs = append(append([]attribute.KeyValue(nil), attrs...),
					attribute.String("mcp.session.id", info.ID))
			}

			ctx, span := tracer.Start(ctx, "mcp."+req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(spanAttrs...))
			defer span.End()

			if id := RequestIDFromContext(ctx); id != "" {
				span.SetAttributes(attribute.String("mcp.request_id", id))
			}

			start := time.Now()
			requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			resp, err := next(ctx, req)
			latency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))

			var rpcErr *protocol.Error
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				rpcErr = protocol.AsError(err)
			case resp != nil && resp.Error != nil:
				span.SetStatus(codes.Error, resp.Error.Message)
				rpcErr = resp.Error
			default:
				span.SetStatus(codes.Ok, "")
			}
			if rpcErr != nil {
				span.SetAttributes(attribute.Int("mcp.error_code", rpcErr.Code))
				failures.Add(ctx, 1, metric.WithAttributes(
					append(attrs, attribute.Int("mcp.error_code", rpcErr.Code))...))
			}
			return resp, err
		}
	}
}
