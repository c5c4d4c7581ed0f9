package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope/auth"
	"github.com/yanolja/horoscope/config"
	"github.com/yanolja/horoscope/failover"
	"github.com/yanolja/horoscope/monitoring"
	"github.com/yanolja/horoscope/orchestrator"
	"github.com/yanolja/horoscope/provider"
	"github.com/yanolja/horoscope/provider/openaicompat"
	"github.com/yanolja/horoscope/rate"
	"github.com/yanolja/horoscope/security"
	"github.com/yanolja/horoscope/server"
	"github.com/yanolja/horoscope/state"
	"github.com/yanolja/horoscope/usage"
	"github.com/yanolja/horoscope/utils"
)

func setupStateStore(config *config.Config, logger *zap.SugaredLogger) (state.Store, func(), error) {
	if config.ValkeyEndpoint != "" {
		valkeyClient, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: []string{config.ValkeyEndpoint},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Valkey client: %v", err)
		}
		logger.Infow("Using Valkey state store", "endpoint", config.ValkeyEndpoint)
		store := state.NewValkeyStore(valkeyClient, config.StatePrefix)
		return store, store.Close, nil
	}

	if config.SqlitePath != "" {
		store, err := state.NewSqliteStore(config.SqlitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite state store: %v", err)
		}
		logger.Infow("Using SQLite state store", "path", store.Path())
		cleanup := func() {
			if err := store.Close(); err != nil {
				logger.Warnw("Failed to close SQLite state store", "error", err)
			}
		}
		return state.Prefixed(store, config.StatePrefix), cleanup, nil
	}

	logger.Warnw("Using in-memory state store; quota state is lost on restart")
	return state.Prefixed(state.NewMemoryStore(), config.StatePrefix), func() {}, nil
}

func setupRegistry(config *config.Config, logger *zap.SugaredLogger) (*provider.Registry, error) {
	adapters := make([]provider.Adapter, 0, len(config.Providers))
	for _, providerConfig := range config.Providers {
		endpoint, err := openaicompat.NewVendorEndpoint(providerConfig.Name, providerConfig.BaseUrl, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s endpoint: %v", providerConfig.Name, err)
		}
		adapters = append(adapters, endpoint)
	}
	registry := provider.NewRegistry(adapters...)
	if err := registry.Covers(config.Providers); err != nil {
		return nil, err
	}
	return registry, nil
}

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	config, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("Failed to load config", "error", err)
	}
	sugar.Infow("Loaded config", "providers", config.Providers.Names(), "port", config.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := monitoring.SetupTracing(ctx, config.Tracing, sugar)
	if err != nil {
		sugar.Fatalw("Failed to setup tracing", "error", err)
	}

	shutdownMetrics, err := monitoring.SetupMetricsExport(ctx, config.OtlpMetrics, sugar)
	if err != nil {
		sugar.Fatalw("Failed to setup metrics export", "error", err)
	}

	store, closeStore, err := setupStateStore(config, sugar)
	if err != nil {
		sugar.Fatalw("Failed to setup state store", "error", err)
	}

	registry, err := setupRegistry(config, sugar)
	if err != nil {
		sugar.Fatalw("Failed to setup providers", "error", err)
	}

	metrics := monitoring.NewPrometheusMonitor(&config.Prometheus, sugar)
	otelMonitor, err := monitoring.NewOpenTelemetryMonitor(nil)
	if err != nil {
		sugar.Fatalw("Failed to create OpenTelemetry instruments", "error", err)
	}
	monitors := monitoring.Fanout{metrics, otelMonitor}

	recorder := usage.NewRecorder(store, sugar)
	controller := failover.NewController(
		config.Providers,
		registry,
		rate.NewLimiter(store, sugar),
		recorder,
		sugar,
		failover.WithObserver(monitors),
	)
	interpreter := orchestrator.New(ctx, controller, monitors, sugar)

	options := []server.Option{server.WithMetrics(metrics.Handler())}
	if config.JwtSecret != "" {
		options = append(options, server.WithSessions(auth.NewSessionManager(config.JwtSecret, sugar)))
	} else {
		sugar.Warnw("JWT_SECRET is not set; the API accepts unauthenticated requests")
	}
	if config.ClientRequestsPerMinute > 0 {
		limiter := security.NewClientRateLimiter(config.ClientRequestsPerMinute, time.Minute, sugar)
		go limiter.Run(ctx, 5*time.Minute)
		options = append(options, server.WithClientLimiter(limiter))
	}
	api := server.New(interpreter, recorder, config.Providers, config.ApiKeys, sugar, options...)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		Debug:          false,
	})

	address := fmt.Sprintf(":%d", config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           corsMiddleware.Handler(api.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("Server forced to shutdown", "error", err)
		}
		if err := interpreter.Close(shutdownCtx); err != nil {
			sugar.Errorw("Interpretation queue did not drain", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("Failed to flush traces", "error", err)
		}
		if err := shutdownMetrics(shutdownCtx); err != nil {
			sugar.Warnw("Failed to flush metrics", "error", err)
		}
		cancel()
	}()

	sugar.Infow("Starting server", "address", address)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("Failed to start server", "error", err)
	}

	<-ctx.Done()
	closeStore()
	sugar.Infow("Server exited gracefully")
}
