package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
)

// Backend names accepted by Open.
const (
	BackendInMemory  = "in_memory"
	BackendSQLite    = "sqlite"
	BackendMemcached = "memcached"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Store is the keyed countries table. Name is the key; InsertAll replaces on conflict.
// GetAll returns rows in first-insertion order; a replaced row keeps its position.
type Store interface {
	GetAll(ctx context.Context) ([]models.Country, error)
	InsertAll(ctx context.Context, countries []models.Country) error
}

// Pinger is implemented by backends that can report reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is what Open returns: a Store that can be pinged and closed.
type Backend interface {
	Store
	Pinger
	io.Closer
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	SQLitePath string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
}

// Open constructs the backend named in opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendInMemory:
		return NewInMemoryStore(), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemcached:
		s, err := NewMemcachedStore(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// MergeCountries applies incoming on top of existing with insert-or-replace semantics.
// Existing rows keep their position; new names are appended in incoming order.
// MergeCountries(nil, batch) collapses duplicate names the way every Store does.
func MergeCountries(existing, incoming []models.Country) []models.Country {
	out := make([]models.Country, len(existing), len(existing)+len(incoming))
	copy(out, existing)
	index := make(map[string]int, len(out)+len(incoming))
	for i, c := range out {
		index[c.Name] = i
	}
	for _, c := range incoming {
		if i, ok := index[c.Name]; ok {
			out[i] = c
			continue
		}
		index[c.Name] = len(out)
		out = append(out, c)
	}
	return out
}

// observe records duration and, on failure, an error count for a store operation.
func observe(backend, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		observability.StoreErrorsTotal.WithLabelValues(backend, operation, categorizeError(err)).Inc()
	}
	observability.StoreOperationDurationSeconds.WithLabelValues(backend, operation, result).Observe(time.Since(start).Seconds())
}

// categorizeError returns a stable metric label for store errors.
func categorizeError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, ErrConflict) {
		return "conflict"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	if strings.Contains(errStr, "decode") || strings.Contains(errStr, "encode") {
		return "codec"
	}
	return "unknown"
}
