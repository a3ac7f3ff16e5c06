package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drive-side-service/internal/client"
	"github.com/kjstillabower/drive-side-service/internal/filter"
	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
	"github.com/kjstillabower/drive-side-service/internal/store"
	"github.com/kjstillabower/drive-side-service/internal/validation"
)

// DefaultNameMaxLength bounds country names accepted by Upsert.
const DefaultNameMaxLength = 100

const coalesceKey = "countries"

// CountryRepository serves country records from the local store and fills an
// empty store from the remote source on first read.
type CountryRepository struct {
	store      store.Store
	client     client.CountryClient
	coalescer  *fetchCoalescer
	logger     *zap.Logger
	nameMaxLen int
}

// Option configures a CountryRepository.
type Option func(*CountryRepository)

// WithCoalescing shares one remote fetch between concurrent empty-store reads.
// A non-positive timeout leaves coalescing disabled.
func WithCoalescing(timeout time.Duration) Option {
	return func(r *CountryRepository) {
		if timeout > 0 {
			r.coalescer = newFetchCoalescer(timeout)
		}
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(r *CountryRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNameMaxLength sets the longest name Upsert accepts.
func WithNameMaxLength(n int) Option {
	return func(r *CountryRepository) {
		if n > 0 {
			r.nameMaxLen = n
		}
	}
}

// NewCountryRepository wires a store and a remote client.
func NewCountryRepository(s store.Store, c client.CountryClient, opts ...Option) *CountryRepository {
	r := &CountryRepository{
		store:      s,
		client:     c,
		logger:     zap.NewNop(),
		nameMaxLen: DefaultNameMaxLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *CountryRepository) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// GetAll returns the stored countries. When the store is empty it fetches from
// the remote source, persists the result and returns it. A remote failure is
// logged and answered with the (empty) local state; store read errors are returned.
func (r *CountryRepository) GetAll(ctx context.Context) ([]models.Country, error) {
	logger := r.loggerFor(ctx)

	local, err := r.store.GetAll(ctx)
	if err != nil {
		observability.StoreReadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(local) > 0 {
		observability.StoreReadsTotal.WithLabelValues("hit").Inc()
		return local, nil
	}
	observability.StoreReadsTotal.WithLabelValues("miss").Inc()
	if local == nil {
		local = []models.Country{}
	}

	logger.Debug("store empty, fetching remote")
	fetched, err := r.fetchAndPersist(ctx)
	if err != nil {
		category := client.CategorizeError(err)
		observability.RemoteFallbackTotal.WithLabelValues(string(category)).Inc()
		logger.Warn("remote fetch failed, serving local state",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return local, nil
	}
	return fetched, nil
}

// fetchAndPersist runs the remote fetch, through the coalescer when enabled.
// Only the remote error is returned; a failed write is logged and the fetched
// records are still served.
func (r *CountryRepository) fetchAndPersist(ctx context.Context) ([]models.Country, error) {
	logger := r.loggerFor(ctx)
	fetch := func(fetchCtx context.Context) ([]models.Country, error) {
		fetched, err := r.client.FetchAll(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(fetched) == 0 {
			return []models.Country{}, nil
		}
		// Served records must match what the store holds after insert-or-replace.
		fetched = store.MergeCountries(nil, fetched)
		if err := r.store.InsertAll(fetchCtx, fetched); err != nil {
			logger.Warn("persist fetched countries failed",
				zap.Int("count", len(fetched)),
				zap.Error(err),
			)
		} else {
			logger.Info("store filled from remote", zap.Int("count", len(fetched)))
		}
		return fetched, nil
	}

	if r.coalescer == nil {
		return fetch(ctx)
	}
	fetched, shared, err := r.coalescer.Do(ctx, coalesceKey, fetch)
	if shared {
		observability.RemoteFetchCoalescedTotal.Inc()
	}
	return fetched, err
}

// CountriesBySide returns the stored countries driving on side, in store order.
// An unrecognized side yields an empty result rather than an error. The remote
// source is never consulted.
func (r *CountryRepository) CountriesBySide(ctx context.Context, side string) ([]models.Country, error) {
	local, err := r.store.GetAll(ctx)
	if err != nil {
		observability.StoreReadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read store: %w", err)
	}

	out, err := filter.FilterByDriveSide(local, side)
	if err != nil {
		if errors.Is(err, filter.ErrInvalidDriveSide) {
			observability.InvalidDriveSideTotal.WithLabelValues("query").Inc()
			r.loggerFor(ctx).Debug("ignoring invalid drive side", zap.String("side", side), zap.Error(err))
			return []models.Country{}, nil
		}
		return nil, err
	}
	return out, nil
}

// Upsert validates countries and inserts or replaces them by name, returning the
// number of distinct names written. Nothing is written if any record is invalid.
func (r *CountryRepository) Upsert(ctx context.Context, countries []models.Country) (int, error) {
	valid, err := validation.ValidateCountries(countries, r.nameMaxLen)
	if err != nil {
		if errors.Is(err, filter.ErrInvalidDriveSide) {
			observability.InvalidDriveSideTotal.WithLabelValues("upsert").Inc()
		}
		return 0, err
	}
	valid = store.MergeCountries(nil, valid)
	if err := r.store.InsertAll(ctx, valid); err != nil {
		return 0, fmt.Errorf("write store: %w", err)
	}
	r.loggerFor(ctx).Debug("countries upserted", zap.Int("count", len(valid)))
	return len(valid), nil
}

// Refresh fetches the remote list and upserts it regardless of store contents.
// Unlike GetAll, errors are returned.
func (r *CountryRepository) Refresh(ctx context.Context) ([]models.Country, error) {
	fetched, err := r.client.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch remote: %w", err)
	}
	if len(fetched) == 0 {
		return []models.Country{}, nil
	}
	fetched = store.MergeCountries(nil, fetched)
	if err := r.store.InsertAll(ctx, fetched); err != nil {
		return nil, fmt.Errorf("write store: %w", err)
	}
	return fetched, nil
}
