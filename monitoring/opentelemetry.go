package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope/failover"
)

const meterName = "github.com/yanolja/horoscope"

type OtlpMetricsConfig struct {
	// OTLP/gRPC collector address. Export is off when empty.
	// E.g., localhost:4317
	Endpoint string `yaml:"endpoint"`

	// Sends without TLS.
	Insecure bool `yaml:"insecure"`

	// Export interval. Zero uses one minute.
	Interval time.Duration `yaml:"interval"`

	ServiceName string `yaml:"service_name"`
}

// SetupMetricsExport installs a global meter provider that pushes to an OTLP
// collector. With no endpoint configured it leaves the no-op provider in
// place.
func SetupMetricsExport(ctx context.Context, config OtlpMetricsConfig, logger *zap.SugaredLogger) (func(context.Context) error, error) {
	if config.Endpoint == "" {
		logger.Infow("OTLP metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}

	options := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		options = append(options, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %v", err)
	}

	res, err := newResource(ctx, config.ServiceName)
	if err != nil {
		return nil, err
	}

	interval := config.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(meterProvider)

	logger.Infow("OTLP metrics export enabled", "endpoint", config.Endpoint, "interval", interval)
	return meterProvider.Shutdown, nil
}

// OpenTelemetryMonitor records orchestrator activity as OpenTelemetry
// instruments.
type OpenTelemetryMonitor struct {
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	skipCounter     metric.Int64Counter
	tokenCounter    metric.Int64Counter
	failoverCounter metric.Int64Counter
	exhaustCounter  metric.Int64Counter
	providerLatency metric.Float64Histogram
	queueSize       metric.Int64Gauge
}

var _ failover.Observer = (*OpenTelemetryMonitor)(nil)

// NewOpenTelemetryMonitor creates instruments on the provider. A nil
// provider uses the global one.
func NewOpenTelemetryMonitor(provider metric.MeterProvider) (*OpenTelemetryMonitor, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	o := &OpenTelemetryMonitor{}

	var err error
	if o.requestCounter, err = meter.Int64Counter(
		"horoscope.provider.requests",
		metric.WithDescription("Successful provider calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %v", err)
	}
	if o.errorCounter, err = meter.Int64Counter(
		"horoscope.provider.errors",
		metric.WithDescription("Failed provider calls by error code"),
	); err != nil {
		return nil, fmt.Errorf("failed to create error counter: %v", err)
	}
	if o.skipCounter, err = meter.Int64Counter(
		"horoscope.provider.skips",
		metric.WithDescription("Providers skipped by local quota or rate checks"),
	); err != nil {
		return nil, fmt.Errorf("failed to create skip counter: %v", err)
	}
	if o.tokenCounter, err = meter.Int64Counter(
		"horoscope.provider.tokens",
		metric.WithDescription("Tokens reported by providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token counter: %v", err)
	}
	if o.failoverCounter, err = meter.Int64Counter(
		"horoscope.failovers",
		metric.WithDescription("Failovers preceding successful interpretations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failover counter: %v", err)
	}
	if o.exhaustCounter, err = meter.Int64Counter(
		"horoscope.all_providers_failed",
		metric.WithDescription("Requests for which no provider succeeded"),
	); err != nil {
		return nil, fmt.Errorf("failed to create exhaustion counter: %v", err)
	}
	if o.providerLatency, err = meter.Float64Histogram(
		"horoscope.provider.latency",
		metric.WithDescription("Latency of successful provider calls"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %v", err)
	}
	if o.queueSize, err = meter.Int64Gauge(
		"horoscope.queue.size",
		metric.WithDescription("Requests waiting for the execution slot"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queue gauge: %v", err)
	}
	return o, nil
}

func providerAttribute(provider string) attribute.KeyValue {
	return attribute.String("provider", provider)
}

func (o *OpenTelemetryMonitor) ProviderSkipped(provider string, reason failover.ErrorCode) {
	o.skipCounter.Add(context.Background(), 1, metric.WithAttributes(
		providerAttribute(provider),
		attribute.String("reason", string(reason)),
	))
}

func (o *OpenTelemetryMonitor) ProviderSucceeded(provider string, latency time.Duration, tokens int, failovers int) {
	ctx := context.Background()
	attrs := metric.WithAttributes(providerAttribute(provider))
	o.requestCounter.Add(ctx, 1, attrs)
	o.tokenCounter.Add(ctx, int64(tokens), attrs)
	o.providerLatency.Record(ctx, latency.Seconds(), attrs)
	o.failoverCounter.Add(ctx, int64(failovers))
}

func (o *OpenTelemetryMonitor) ProviderFailed(provider string, code failover.ErrorCode) {
	o.errorCounter.Add(context.Background(), 1, metric.WithAttributes(
		providerAttribute(provider),
		attribute.String("code", string(code)),
	))
}

func (o *OpenTelemetryMonitor) AllFailed(failovers int) {
	o.exhaustCounter.Add(context.Background(), 1)
}

func (o *OpenTelemetryMonitor) QueueDepth(depth int) {
	o.queueSize.Record(context.Background(), int64(depth))
}
