// Package observability настраивает OpenTelemetry-трейсинг процесса.
package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config — параметры трейсинга.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint пустой: спаны пишутся в StdoutWriter (или отбрасываются, если он nil).
	OTLPEndpoint string
	Insecure     bool
	Disabled     bool
	StdoutWriter io.Writer
}

// ShutdownFunc сбрасывает накопленные спаны.
type ShutdownFunc func(context.Context) error

// Init регистрирует глобальный TracerProvider и W3C-пропагатор.
func Init(ctx context.Context, cfg Config, logger *log.Entry) (trace.TracerProvider, ShutdownFunc, error) {
	if logger == nil {
		logger = log.WithField("component", "observability")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Disabled {
		provider := noop.NewTracerProvider()
		otel.SetTracerProvider(provider)
		logger.Info("tracing disabled")
		return provider, func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build otel resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config, logger *log.Entry) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err == nil {
			logger.WithField("endpoint", endpoint).Info("tracing exports to OTLP")
			return exporter, nil
		}
		logger.WithError(err).Warn("failed to initialize OTLP trace exporter, falling back to stdout")
	}
	if cfg.StdoutWriter == nil {
		return nil, nil
	}
	return stdouttrace.New(stdouttrace.WithWriter(cfg.StdoutWriter))
}
