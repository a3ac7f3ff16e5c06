package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/drive-side-service/internal/circuitbreaker"
	"github.com/kjstillabower/drive-side-service/internal/client"
	"github.com/kjstillabower/drive-side-service/internal/config"
	httphandler "github.com/kjstillabower/drive-side-service/internal/http"
	"github.com/kjstillabower/drive-side-service/internal/lifecycle"
	"github.com/kjstillabower/drive-side-service/internal/observability"
	"github.com/kjstillabower/drive-side-service/internal/repository"
	"github.com/kjstillabower/drive-side-service/internal/store"
)

const remoteComponent = "country_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	srv, backend := a.srv, a.backend

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	warmer := a.warmer
	if cfg.WarmOnStart {
		lifecycle.SetPhase(lifecycle.PhaseStarting)
		go func() {
			warmCtx, warmCancel := context.WithTimeout(bgCtx, 30*time.Second)
			defer warmCancel()
			_ = warmer.Warm(warmCtx)
			lifecycle.SetPhase(lifecycle.PhaseServing)
		}()
	}
	if cfg.RefreshInterval > 0 {
		go func() {
			if err := warmer.RefreshPeriodic(bgCtx, cfg.RefreshInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic refresh stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown()
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger, backend); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// app holds the wired service components.
type app struct {
	srv     *http.Server
	backend store.Backend
	repo    *repository.CountryRepository
	warmer  *repository.Warmer
}

// newApp wires client, breaker, store, repository and router from cfg. The caller
// owns starting the server and closing the store.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	countryClient, err := client.NewRESTCountriesClientWithRetry(
		cfg.RemoteURL,
		cfg.RemoteTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("country client: %w", err)
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        remoteComponent,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(remoteComponent, from.String(), to.String())
				observability.SetCircuitBreakerStateGauge(remoteComponent, int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		countryClient.SetCircuitBreaker(breaker)
		observability.SetCircuitBreakerStateGauge(remoteComponent, int(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	backend, err := store.Open(ctx, store.Options{
		Backend:               cfg.StoreBackend,
		SQLitePath:            cfg.SQLitePath,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend))

	opts := []repository.Option{
		repository.WithLogger(logger),
		repository.WithNameMaxLength(cfg.NameMaxLength),
	}
	if cfg.CoalesceEnabled {
		opts = append(opts, repository.WithCoalescing(cfg.CoalesceTimeout))
	}
	repo := repository.NewCountryRepository(backend, countryClient, opts...)

	var breakerState httphandler.BreakerState
	if breaker != nil {
		breakerState = breaker
	}
	handler := httphandler.NewHandler(repo, backend, breakerState, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	return &app{
		srv: &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		},
		backend: backend,
		repo:    repo,
		warmer:  repository.NewWarmer(repo, logger),
	}, nil
}
