package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/horoscope/failover"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range resourceMetrics.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	want := attribute.NewSet(attrs...)
	for _, point := range sum.DataPoints {
		if point.Attributes.Equals(&want) {
			return point.Value
		}
	}
	return 0
}

func TestOpenTelemetryMonitor(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	monitor, err := NewOpenTelemetryMonitor(provider)
	require.NoError(t, err)

	monitor.ProviderSkipped("iflow", failover.CodeRateLimitLocal)
	monitor.ProviderFailed("groq", failover.CodeRateLimit)
	monitor.ProviderSucceeded("cerebras", 2*time.Second, 300, 1)
	monitor.ProviderSucceeded("cerebras", time.Second, 100, 0)
	monitor.AllFailed(2)
	monitor.QueueDepth(3)

	metrics := collect(t, reader)

	assert.Equal(t, int64(1), sumFor(t, metrics["horoscope.provider.skips"],
		attribute.String("provider", "iflow"), attribute.String("reason", "RATE_LIMIT_LOCAL")))
	assert.Equal(t, int64(1), sumFor(t, metrics["horoscope.provider.errors"],
		attribute.String("code", "RATE_LIMIT"), attribute.String("provider", "groq")))
	assert.Equal(t, int64(2), sumFor(t, metrics["horoscope.provider.requests"], attribute.String("provider", "cerebras")))
	assert.Equal(t, int64(400), sumFor(t, metrics["horoscope.provider.tokens"], attribute.String("provider", "cerebras")))
	assert.Equal(t, int64(1), sumFor(t, metrics["horoscope.failovers"]))
	assert.Equal(t, int64(1), sumFor(t, metrics["horoscope.all_providers_failed"]))

	latency, ok := metrics["horoscope.provider.latency"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, latency.DataPoints, 1)
	assert.Equal(t, uint64(2), latency.DataPoints[0].Count)
	assert.InDelta(t, 3.0, latency.DataPoints[0].Sum, 1e-9)

	queue, ok := metrics["horoscope.queue.size"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, queue.DataPoints, 1)
	assert.Equal(t, int64(3), queue.DataPoints[0].Value)
}

func TestSetupMetricsExport_Disabled(t *testing.T) {
	shutdown, err := SetupMetricsExport(context.Background(), OtlpMetricsConfig{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestFanout(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	first := NewPrometheusMonitor(nil, logger)
	second := NewPrometheusMonitor(nil, logger)
	fanout := Fanout{first, second}

	fanout.ProviderSkipped("iflow", failover.CodeQuotaExceeded)
	fanout.ProviderFailed("groq", failover.CodeApiError)
	fanout.ProviderSucceeded("cerebras", time.Second, 5, 2)
	fanout.AllFailed(3)
	fanout.QueueDepth(7)

	for _, monitor := range []*PrometheusMonitor{first, second} {
		assert.Equal(t, 1.0, testutil.ToFloat64(monitor.skipsTotal.WithLabelValues("iflow", "QUOTA_EXCEEDED")))
		assert.Equal(t, 1.0, testutil.ToFloat64(monitor.errorsTotal.WithLabelValues("groq", "API_ERROR")))
		assert.Equal(t, 2.0, testutil.ToFloat64(monitor.failoversTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(monitor.exhaustedTotal))
		assert.Equal(t, 7.0, testutil.ToFloat64(monitor.queueSize))
	}
}
