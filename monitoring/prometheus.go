package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope/failover"
)

type PrometheusConfig struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// PrometheusMonitor exports orchestrator activity. It implements
// failover.Observer and orchestrator.QueueObserver.
type PrometheusMonitor struct {
	config   *PrometheusConfig
	registry *prometheus.Registry
	logger   *zap.SugaredLogger

	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	skipsTotal      *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	failoversTotal  prometheus.Counter
	exhaustedTotal  prometheus.Counter
	providerLatency *prometheus.HistogramVec
	queueSize       prometheus.Gauge
}

var _ failover.Observer = (*PrometheusMonitor)(nil)

func NewPrometheusMonitor(config *PrometheusConfig, logger *zap.SugaredLogger) *PrometheusMonitor {
	if config == nil {
		config = &PrometheusConfig{Namespace: "horoscope", Subsystem: "interpret"}
	}
	p := &PrometheusMonitor{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	p.initializeMetrics()
	return p
}

func (p *PrometheusMonitor) initializeMetrics() {
	namespace := p.config.Namespace
	subsystem := p.config.Subsystem

	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_requests_total",
			Help:      "Successful provider calls",
		},
		[]string{"provider"},
	)

	p.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_errors_total",
			Help:      "Failed provider calls by error code",
		},
		[]string{"provider", "code"},
	)

	p.skipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_skips_total",
			Help:      "Providers skipped by local quota or rate checks",
		},
		[]string{"provider", "reason"},
	)

	p.tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		},
		[]string{"provider"},
	)

	p.failoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failovers_total",
			Help:      "Failovers preceding successful interpretations",
		},
	)

	p.exhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "all_providers_failed_total",
			Help:      "Requests for which no provider succeeded",
		},
	)

	p.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_latency_seconds",
			Help:      "Latency of successful provider calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	p.queueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_size",
			Help:      "Requests waiting for the execution slot",
		},
	)

	p.registry.MustRegister(
		p.requestsTotal,
		p.errorsTotal,
		p.skipsTotal,
		p.tokensTotal,
		p.failoversTotal,
		p.exhaustedTotal,
		p.providerLatency,
		p.queueSize,
	)
}

func (p *PrometheusMonitor) ProviderSkipped(provider string, reason failover.ErrorCode) {
	p.skipsTotal.WithLabelValues(provider, string(reason)).Inc()
}

func (p *PrometheusMonitor) ProviderSucceeded(provider string, latency time.Duration, tokens int, failovers int) {
	p.requestsTotal.WithLabelValues(provider).Inc()
	p.tokensTotal.WithLabelValues(provider).Add(float64(tokens))
	p.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
	p.failoversTotal.Add(float64(failovers))
}

func (p *PrometheusMonitor) ProviderFailed(provider string, code failover.ErrorCode) {
	p.errorsTotal.WithLabelValues(provider, string(code)).Inc()
}

func (p *PrometheusMonitor) AllFailed(failovers int) {
	p.exhaustedTotal.Inc()
	p.logger.Warnw("All providers failed", "failovers", failovers)
}

func (p *PrometheusMonitor) QueueDepth(depth int) {
	p.queueSize.Set(float64(depth))
}

// Handler serves the metrics in the Prometheus exposition format.
func (p *PrometheusMonitor) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMonitor) Registry() *prometheus.Registry {
	return p.registry
}
