// Command mcpmux serves the demo tools over stdio or every HTTP transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/felixgeelhaar/mcpmux"
	"github.com/felixgeelhaar/mcpmux/config"
	"github.com/felixgeelhaar/mcpmux/logging"
	"github.com/felixgeelhaar/mcpmux/middleware"
	"github.com/felixgeelhaar/mcpmux/tools"
	"github.com/felixgeelhaar/mcpmux/transport"
)

var version = "dev"

type flags struct {
	configPath string
	transport  string
	port       int
	tracing    bool
	otelURL    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpmux:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "mcpmux",
		Short:         "Serve MCP over stdio, streaming HTTP, legacy SSE and WebSocket",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&f.transport, "transport", "", "Transport: http or stdio (overrides TRANSPORT)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "HTTP port (overrides PORT)")
	cmd.Flags().BoolVar(&f.tracing, "tracing", false, "Export OpenTelemetry spans and metrics for every request")
	cmd.Flags().StringVar(&f.otelURL, "otel-endpoint", "", "OTLP/HTTP collector base URL (overrides MCP_OTEL_ENDPOINT)")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = f.transport
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("otel-endpoint") {
		cfg.OTelEndpoint = f.otelURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// stdout carries protocol traffic in stdio mode
	logger := logging.New(os.Stderr,
		logging.WithLevel(cfg.LogLevel),
		logging.WithFormat(cfg.LogFormat),
		logging.WithField("service", cfg.ServiceName),
	)

	srv := mcpmux.NewServer(mcpmux.ServerInfo{Name: cfg.ServiceName, Version: version})
	if err := tools.Register(srv); err != nil {
		return err
	}

	var opts []mcpmux.ServeOption
	if f.tracing {
		otelOpts, shutdown, err := setupTelemetry(ctx, cfg.ServiceName, cfg.OTelEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", middleware.F("error", err.Error()))
			}
		}()
		opts = append(opts, mcpmux.WithTracing(otelOpts...))
	}

	logger.Info("starting", middleware.F("transport", cfg.Transport), middleware.F("version", version))
	err = mcpmux.Serve(ctx, srv, cfg, logger, opts...)
	switch {
	case errors.Is(err, transport.ErrTransportStartup):
		logger.Error("transport failed to start", middleware.F("error", err.Error()))
		return err
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

var errNoCollector = errors.New("--tracing needs an OTLP endpoint (--otel-endpoint or MCP_OTEL_ENDPOINT)")

// setupTelemetry exports spans and metrics over OTLP/HTTP to the collector
// at endpoint, a base URL such as http://localhost:4318.
func setupTelemetry(ctx context.Context, service, endpoint string) ([]middleware.OTelOption, func(context.Context) error, error) {
	if endpoint == "" {
		return nil, nil, errNoCollector
	}
	base := strings.TrimSuffix(endpoint, "/")

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(base+"/v1/traces"))
	if err != nil {
		return nil, nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(base+"/v1/metrics"))
	if err != nil {
		return nil, nil, fmt.Errorf("metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return []middleware.OTelOption{
		middleware.WithTracerProvider(tp),
		middleware.WithMeterProvider(mp),
		middleware.WithOTelServiceName(service),
	}, shutdown, nil
}
