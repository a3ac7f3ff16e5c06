package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
)

// ErrInvalidInterval is returned by RefreshPeriodic for a non-positive interval.
var ErrInvalidInterval = errors.New("refresh interval must be positive")

// Loader is the part of CountryRepository the Warmer drives.
type Loader interface {
	GetAll(ctx context.Context) ([]models.Country, error)
	Refresh(ctx context.Context) ([]models.Country, error)
}

// Warmer primes the store at startup and keeps it fresh in the background.
type Warmer struct {
	loader Loader
	logger *zap.Logger
}

// NewWarmer creates a Warmer. A nil logger is replaced with a no-op logger.
func NewWarmer(loader Loader, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{loader: loader, logger: logger}
}

// Warm runs GetAll once so an empty store is filled before traffic arrives.
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	countries, err := w.loader.GetAll(ctx)
	if err != nil {
		observability.StoreWarmingTotal.WithLabelValues("warm", "error").Inc()
		w.logger.Warn("store warm failed", zap.Error(err))
		return err
	}
	observability.StoreWarmingTotal.WithLabelValues("warm", "success").Inc()
	w.logger.Info("store warmed",
		zap.Int("countries", len(countries)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// RefreshPeriodic calls Refresh every interval until ctx is done. Failures are
// logged and the loop continues.
func (w *Warmer) RefreshPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			countries, err := w.loader.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				observability.StoreWarmingTotal.WithLabelValues("refresh", "error").Inc()
				w.logger.Warn("periodic refresh failed", zap.Error(err))
				continue
			}
			observability.StoreWarmingTotal.WithLabelValues("refresh", "success").Inc()
			w.logger.Debug("periodic refresh complete", zap.Int("countries", len(countries)))
		}
	}
}
