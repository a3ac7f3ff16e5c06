package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// tableKey holds the whole countries table as one JSON document.
const tableKey = "countries:table"

// maxCASAttempts bounds the read-modify-write loop in InsertAll.
const maxCASAttempts = 5

// ErrConflict is returned when concurrent writers keep winning the CAS race.
var ErrConflict = errors.New("store: concurrent update conflict")

type tableDocument struct {
	Countries []models.Country `json:"countries"`
}

// MemcachedStore implements Store on memcached. Upserts use CompareAndSwap so
// concurrent writers from several processes do not lose rows.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// load returns the current document and its item (nil on miss).
func (s *MemcachedStore) load() (tableDocument, *memcache.Item, error) {
	item, err := s.client.Get(tableKey)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return tableDocument{}, nil, nil
		}
		return tableDocument{}, nil, err
	}
	var doc tableDocument
	if err := json.Unmarshal(item.Value, &doc); err != nil {
		return tableDocument{}, nil, fmt.Errorf("decode table: %w", err)
	}
	return doc, item, nil
}

// GetAll implements Store.GetAll. A missing table reads as empty.
func (s *MemcachedStore) GetAll(ctx context.Context) (out []models.Country, err error) {
	defer func(start time.Time) { observe(BackendMemcached, "get_all", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	if doc.Countries == nil {
		return []models.Country{}, nil
	}
	return doc.Countries, nil
}

// InsertAll implements Store.InsertAll with a CAS retry loop.
func (s *MemcachedStore) InsertAll(ctx context.Context, countries []models.Country) (err error) {
	defer func(start time.Time) { observe(BackendMemcached, "insert_all", start, err) }(time.Now())
	if len(countries) == 0 {
		return ctx.Err()
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, item, err := s.load()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(tableDocument{Countries: MergeCountries(doc.Countries, countries)})
		if err != nil {
			return fmt.Errorf("encode table: %w", err)
		}
		if item == nil {
			err = s.client.Add(&memcache.Item{Key: tableKey, Value: raw})
		} else {
			item.Value = raw
			err = s.client.CompareAndSwap(item)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrCacheMiss):
			continue
		default:
			return err
		}
	}
	return ErrConflict
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
