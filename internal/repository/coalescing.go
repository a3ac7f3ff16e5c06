package repository

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// inFlightFetch tracks a single remote fetch that multiple callers may wait for.
type inFlightFetch struct {
	done   chan struct{}
	result []models.Country
	err    error
}

// fetchCoalescer collapses concurrent fetches for the same key into one call.
type fetchCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
	timeout  time.Duration
}

func newFetchCoalescer(timeout time.Duration) *fetchCoalescer {
	return &fetchCoalescer{
		inFlight: make(map[string]*inFlightFetch),
		timeout:  timeout,
	}
}

// Do runs fn for key unless a call for key is already running, in which case it
// waits for that call's result. shared reports whether the result came from
// another caller's fetch. fn runs detached from the caller's cancellation so a
// departing caller does not fail the others; waiting is bounded by ctx and the
// coalescer timeout.
func (fc *fetchCoalescer) Do(ctx context.Context, key string, fn func(context.Context) ([]models.Country, error)) (result []models.Country, shared bool, err error) {
	fc.mu.Lock()
	call, exists := fc.inFlight[key]
	if !exists {
		call = &inFlightFetch{done: make(chan struct{})}
		fc.inFlight[key] = call
	}
	fc.mu.Unlock()

	if !exists {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fc.timeout)
		go func() {
			defer cancel()
			call.result, call.err = fn(fetchCtx)

			fc.mu.Lock()
			delete(fc.inFlight, key)
			fc.mu.Unlock()
			close(call.done)
		}()
	}

	waitCtx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()
	select {
	case <-call.done:
		if call.err != nil {
			return nil, exists, call.err
		}
		out := make([]models.Country, len(call.result))
		copy(out, call.result)
		return out, exists, nil
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}
