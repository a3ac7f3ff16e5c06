package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// runStoreContract exercises the Store contract shared by every backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("empty store reads empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetAll(context.Background())
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("GetAll() = %+v, want empty", got)
		}
	})

	t.Run("insert and read", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, []models.Country{{Name: "Brazil", DriveSide: "right"}}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != 1 || got[0].Name != "Brazil" || got[0].DriveSide != "right" {
			t.Errorf("GetAll() = %+v, want [Brazil/right]", got)
		}
	})

	t.Run("insert multiple keeps order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := []models.Country{
			{Name: "Spain", DriveSide: "right"},
			{Name: "Thailand", DriveSide: "left"},
			{Name: "Italy", DriveSide: "right"},
		}
		if err := s.InsertAll(ctx, in); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != len(in) {
			t.Fatalf("GetAll() len = %d, want %d", len(got), len(in))
		}
		for i := range in {
			if got[i] != in[i] {
				t.Errorf("GetAll()[%d] = %+v, want %+v", i, got[i], in[i])
			}
		}
	})

	t.Run("replace existing key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, []models.Country{{Name: "India", DriveSide: "left"}}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		if err := s.InsertAll(ctx, []models.Country{{Name: "India", DriveSide: "right"}}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("GetAll() len = %d, want 1", len(got))
		}
		if got[0] != (models.Country{Name: "India", DriveSide: "right"}) {
			t.Errorf("GetAll()[0] = %+v, want India/right", got[0])
		}
	})

	t.Run("replace keeps position", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, []models.Country{
			{Name: "Sweden", DriveSide: "right"},
			{Name: "Japan", DriveSide: "left"},
		}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		if err := s.InsertAll(ctx, []models.Country{
			{Name: "Kenya", DriveSide: "left"},
			{Name: "Sweden", DriveSide: "left"},
		}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		want := []models.Country{
			{Name: "Sweden", DriveSide: "left"},
			{Name: "Japan", DriveSide: "left"},
			{Name: "Kenya", DriveSide: "left"},
		}
		if len(got) != len(want) {
			t.Fatalf("GetAll() = %+v, want %+v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("GetAll()[%d] = %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	t.Run("duplicate in one batch last wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, []models.Country{
			{Name: "Samoa", DriveSide: "right"},
			{Name: "Samoa", DriveSide: "left"},
		}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != 1 || got[0].DriveSide != "left" {
			t.Errorf("GetAll() = %+v, want [Samoa/left]", got)
		}
	})

	t.Run("empty insert is a no-op", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, nil); err != nil {
			t.Fatalf("InsertAll(nil) error = %v", err)
		}
		got, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("GetAll() = %+v, want empty", got)
		}
	})

	t.Run("returned slice is detached", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.InsertAll(ctx, []models.Country{{Name: "Chile", DriveSide: "right"}}); err != nil {
			t.Fatalf("InsertAll() error = %v", err)
		}
		got, _ := s.GetAll(ctx)
		got[0].DriveSide = "left"
		again, err := s.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll() error = %v", err)
		}
		if again[0].DriveSide != "right" {
			t.Errorf("store mutated through returned slice: %+v", again[0])
		}
	})
}

func TestInMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "countries.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_InMemoryContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(context.Background(), memoryPath)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// TestSQLiteStore_PersistsAcrossReopen verifies rows survive closing and reopening the file.
func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "countries.db")

	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.InsertAll(ctx, []models.Country{{Name: "Japan", DriveSide: "left"}, {Name: "Canada", DriveSide: "right"}}); err != nil {
		t.Fatalf("InsertAll() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "Japan" || got[1].Name != "Canada" {
		t.Errorf("GetAll() after reopen = %+v", got)
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q, want %q", reopened.Path(), path)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("GetAll() error = %v, want context.Canceled", err)
	}
	if err := s.InsertAll(ctx, []models.Country{{Name: "Fiji", DriveSide: "left"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("InsertAll() error = %v, want context.Canceled", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Ping() error = %v, want context.Canceled", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{name: "default is in-memory", opts: Options{}},
		{name: "in_memory", opts: Options{Backend: "in_memory"}},
		{name: "sqlite", opts: Options{Backend: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "c.db")}},
		{name: "memcached", opts: Options{Backend: "memcached", MemcachedAddrs: "localhost:11211"}},
		{name: "unknown", opts: Options{Backend: "postgres"}, wantErr: ErrUnknownBackend},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Open(ctx, tc.opts)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if b == nil {
				t.Fatal("Open() returned nil backend")
			}
			_ = b.Close()
		})
	}
}

func TestMergeCountries(t *testing.T) {
	existing := []models.Country{{Name: "A", DriveSide: "left"}, {Name: "B", DriveSide: "right"}}
	got := MergeCountries(existing, []models.Country{{Name: "C", DriveSide: "left"}, {Name: "A", DriveSide: "right"}})
	want := []models.Country{{Name: "A", DriveSide: "right"}, {Name: "B", DriveSide: "right"}, {Name: "C", DriveSide: "left"}}
	if len(got) != len(want) {
		t.Fatalf("MergeCountries() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MergeCountries()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if existing[0].DriveSide != "left" {
		t.Error("MergeCountries mutated existing slice")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{context.DeadlineExceeded, "timeout"},
		{ErrConflict, "conflict"},
		{errors.New("i/o timeout"), "timeout"},
		{errors.New("connection refused"), "connection"},
		{errors.New("decode table: bad json"), "codec"},
		{errors.New("something else"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.want {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211, ,host2:11211 ")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
	if got := parseAddrs(""); len(got) != 0 {
		t.Errorf("parseAddrs(\"\") = %v, want empty", got)
	}
}
