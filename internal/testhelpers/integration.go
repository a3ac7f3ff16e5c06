//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/drive-side-service/internal/client"
	"github.com/kjstillabower/drive-side-service/internal/repository"
	"github.com/kjstillabower/drive-side-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	RemoteURL     string
	StoreBackend  string // "in_memory", "sqlite" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless INTEGRATION_REMOTE=1, since it reaches the public REST Countries API.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_REMOTE") != "1" {
		t.Skip("INTEGRATION_REMOTE not set, skipping live remote test")
	}

	remoteURL := os.Getenv("REMOTE_URL")
	if remoteURL == "" {
		remoteURL = client.DefaultURL
	}
	backend := os.Getenv("INTEGRATION_STORE_BACKEND")
	if backend == "" {
		backend = store.BackendSQLite
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		RemoteURL:     remoteURL,
		StoreBackend:  backend,
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationRepository opens the configured store and builds a repository over
// a live client. A memcached backend that cannot be reached falls back to sqlite.
// The store is closed via t.Cleanup.
func SetupIntegrationRepository(t *testing.T, cfg IntegrationTestConfig) (*repository.CountryRepository, store.Backend) {
	t.Helper()
	ctx := context.Background()

	opts := store.Options{
		Backend:               cfg.StoreBackend,
		SQLitePath:            filepath.Join(t.TempDir(), "countries.db"),
		MemcachedAddrs:        cfg.MemcachedAddr,
		MemcachedTimeout:      500 * time.Millisecond,
		MemcachedMaxIdleConns: 2,
	}
	backend, err := store.Open(ctx, opts)
	if err == nil && cfg.StoreBackend == store.BackendMemcached {
		if pingErr := backend.Ping(ctx); pingErr != nil {
			t.Logf("memcached not available (%v), using sqlite", pingErr)
			_ = backend.Close()
			opts.Backend = store.BackendSQLite
			backend, err = store.Open(ctx, opts)
		}
	}
	if err != nil {
		t.Fatalf("store.Open(%s) error = %v", opts.Backend, err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	c, err := client.NewRESTCountriesClientWithRetry(cfg.RemoteURL, 10*time.Second, 2, 200*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("NewRESTCountriesClientWithRetry() error = %v", err)
	}
	return repository.NewCountryRepository(backend, c, repository.WithCoalescing(15*time.Second)), backend
}
