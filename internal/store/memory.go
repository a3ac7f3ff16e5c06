package store

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// InMemoryStore implements Store with an insertion-ordered map. Safe for concurrent use.
type InMemoryStore struct {
	mu    sync.RWMutex
	rows  []models.Country
	index map[string]int // name -> position in rows
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{index: make(map[string]int)}
}

// GetAll returns a copy of all rows in first-insertion order.
func (s *InMemoryStore) GetAll(ctx context.Context) (out []models.Country, err error) {
	defer func(start time.Time) { observe(BackendInMemory, "get_all", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out = make([]models.Country, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

// InsertAll inserts or replaces each country by name.
func (s *InMemoryStore) InsertAll(ctx context.Context, countries []models.Country) (err error) {
	defer func(start time.Time) { observe(BackendInMemory, "insert_all", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range countries {
		if i, ok := s.index[c.Name]; ok {
			s.rows[i] = c
			continue
		}
		s.index[c.Name] = len(s.rows)
		s.rows = append(s.rows, c)
	}
	return nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
