package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

type TracingConfig struct {
	// OTLP/HTTP collector address. Tracing is off when empty.
	// E.g., localhost:4318
	Endpoint string `yaml:"endpoint"`

	// Sends without TLS.
	Insecure bool `yaml:"insecure"`

	// Fraction of traces to keep, between 0 and 1.
	SampleRatio float64 `yaml:"sample_ratio"`

	ServiceName string `yaml:"service_name"`
}

// SetupTracing installs a global tracer provider exporting over OTLP/HTTP.
// It returns a shutdown function that flushes pending spans. With no
// endpoint configured it leaves the no-op provider in place.
func SetupTracing(ctx context.Context, config TracingConfig, logger *zap.SugaredLogger) (func(context.Context) error, error) {
	if config.Endpoint == "" {
		logger.Infow("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		options = append(options, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %v", err)
	}

	res, err := newResource(ctx, config.ServiceName)
	if err != nil {
		return nil, err
	}

	ratio := config.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tracerProvider)

	logger.Infow("Tracing enabled", "endpoint", config.Endpoint, "sample_ratio", ratio)
	return tracerProvider.Shutdown, nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = "horoscope"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %v", err)
	}
	return res, nil
}
