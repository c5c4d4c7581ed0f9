package failover

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope"
	"github.com/yanolja/horoscope/provider"
	"github.com/yanolja/horoscope/rate"
	"github.com/yanolja/horoscope/usage"
)

const tracerName = "github.com/yanolja/horoscope/failover"

// Controller tries providers in priority order until one interprets the
// chart. It keeps no state between calls beyond what the limiter and the
// recorder persist, and it must not run concurrently with itself against
// the same store.
type Controller struct {
	// Providers in priority order.
	providers horoscope.ProviderList

	// Adapters by provider name.
	registry *provider.Registry

	// Per-minute request windows.
	limiter *rate.Limiter

	// Per-day usage records.
	recorder *usage.Recorder

	clock    clock.Clock
	observer Observer
	tracer   trace.Tracer
	logger   *zap.SugaredLogger
}

type Option func(*Controller)

// WithClock sets the clock used for the day key and latency.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithObserver(observer Observer) Option {
	return func(c *Controller) { c.observer = observer }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

func NewController(
	providers horoscope.ProviderList,
	registry *provider.Registry,
	limiter *rate.Limiter,
	recorder *usage.Recorder,
	logger *zap.SugaredLogger,
	opts ...Option,
) *Controller {
	c := &Controller{
		providers: providers,
		registry:  registry,
		limiter:   limiter,
		recorder:  recorder,
		clock:     clock.New(),
		observer:  noopObserver{},
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the first successful interpretation, or an
// *AllProvidersFailedError carrying the last provider failure.
//
// For each provider with a credential, the daily quota is checked before a
// minute-window slot is consumed, so exhausted providers never touch their
// window. Providers are never retried within one resolution.
func (c *Controller) Resolve(
	ctx context.Context,
	credentials horoscope.Credentials,
	request *horoscope.InterpretationRequest,
) (*horoscope.Interpretation, error) {
	date := horoscope.UTCDate(c.clock.Now())

	ctx, span := c.tracer.Start(ctx, "failover.Resolve", trace.WithAttributes(
		attribute.String("date", date),
		attribute.String("chart_type", string(request.ChartType)),
	))
	defer span.End()

	var lastError *ProviderError
	failovers := 0

	for _, config := range c.providers {
		credential := credentials[config.Name]
		if credential == "" {
			continue
		}

		adapter, ok := c.registry.Lookup(config.Name)
		if !ok {
			c.logger.Warnw("No adapter for provider", "provider", config.Name)
			continue
		}

		eligible, err := c.eligible(ctx, config, date)
		if err != nil {
			c.logger.Warnw("Failed to check provider eligibility", "provider", config.Name, "error", err)
			continue
		}
		if !eligible {
			continue
		}

		start := c.clock.Now()
		result, err := c.attempt(ctx, adapter, credential, config, request)
		latency := c.clock.Since(start)

		if err == nil {
			if err := c.recorder.RecordSuccess(ctx, config.Name, date, result.TokensUsed, latency.Milliseconds(), failovers); err != nil {
				c.logger.Errorw("Failed to record provider success", "provider", config.Name, "error", err)
			}
			c.observer.ProviderSucceeded(config.Name, latency, result.TokensUsed, failovers)
			span.SetAttributes(attribute.String("provider", config.Name), attribute.Int("failovers", failovers))

			c.logger.Infow("Interpretation resolved", "provider", config.Name, "model", config.Model, "latency", latency, "failovers", failovers)
			return &horoscope.Interpretation{
				Interpretation: result.Interpretation,
				Provider:       config.Name,
				Model:          config.Model,
				TokensUsed:     result.TokensUsed,
				Latency:        latency.Milliseconds(),
				Failovers:      failovers,
				Date:           date,
			}, nil
		}

		code := Classify(err)
		if err := c.recorder.RecordFailure(ctx, config.Name, date, string(code), err.Error()); err != nil {
			c.logger.Errorw("Failed to record provider failure", "provider", config.Name, "error", err)
		}
		c.observer.ProviderFailed(config.Name, code)
		c.logger.Warnw("Provider failed, failing over", "provider", config.Name, "code", code, "error", err)

		failovers++
		lastError = &ProviderError{Provider: config.Name, Code: code, Message: err.Error()}
	}

	c.observer.AllFailed(failovers)
	failure := &AllProvidersFailedError{LastError: lastError, Failovers: failovers}
	span.RecordError(failure)
	span.SetStatus(codes.Error, string(CodeAllProvidersFailed))
	return nil, failure
}

// eligible checks the daily quota, then consumes a minute-window slot.
func (c *Controller) eligible(ctx context.Context, config *horoscope.ProviderConfig, date string) (bool, error) {
	record, err := c.recorder.Get(ctx, config.Name, date)
	if err != nil {
		return false, err
	}
	if config.DailyQuotaExhausted(record.Requests) {
		c.logger.Infow("Daily quota exhausted", "provider", config.Name, "requests", record.Requests, "rpd", config.RequestsPerDay)
		c.observer.ProviderSkipped(config.Name, CodeQuotaExceeded)
		return false, nil
	}

	allowed, err := c.limiter.TryConsume(ctx, config.Name, config.RequestsPerMinute)
	if err != nil {
		return false, err
	}
	if !allowed {
		c.logger.Infow("Rate limit exceeded", "provider", config.Name, "rpm", config.RequestsPerMinute)
		c.observer.ProviderSkipped(config.Name, CodeRateLimitLocal)
		return false, nil
	}
	return true, nil
}

func (c *Controller) attempt(
	ctx context.Context,
	adapter provider.Adapter,
	credential string,
	config *horoscope.ProviderConfig,
	request *horoscope.InterpretationRequest,
) (*provider.Result, error) {
	ctx, span := c.tracer.Start(ctx, "failover.attempt", trace.WithAttributes(
		attribute.String("provider", config.Name),
		attribute.String("model", config.Model),
	))
	defer span.End()

	result, err := adapter.Interpret(ctx, credential, config.Model, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		return nil, err
	}
	if result == nil {
		result = &provider.Result{}
	}
	span.SetAttributes(attribute.Int("tokens", result.TokensUsed))
	return result, nil
}

// Providers returns the configured priority list.
func (c *Controller) Providers() horoscope.ProviderList {
	return c.providers
}
