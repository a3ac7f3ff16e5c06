package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/kjstillabower/drive-side-service/internal/models"
)

const memoryPath = ":memory:"

const createCountriesTable = `CREATE TABLE IF NOT EXISTS countries (
	name TEXT PRIMARY KEY,
	drive_side TEXT NOT NULL
)`

// Upsert keeps the original rowid on conflict so read order stays first-insertion order.
const upsertCountry = `INSERT INTO countries(name, drive_side) VALUES(?, ?)
	ON CONFLICT(name) DO UPDATE SET drive_side = excluded.drive_side`

// SQLiteStore persists the countries table in a SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures the schema.
// An empty path defaults to "countries.db"; ":memory:" keeps the table in process memory.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "countries.db"
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	// A single connection also serializes writers on the file.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createCountriesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create countries table: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// GetAll returns every row ordered by rowid.
func (s *SQLiteStore) GetAll(ctx context.Context) (out []models.Country, err error) {
	defer func(start time.Time) { observe(BackendSQLite, "get_all", start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx, `SELECT name, drive_side FROM countries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("select countries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out = []models.Country{}
	for rows.Next() {
		var c models.Country
		if err := rows.Scan(&c.Name, &c.DriveSide); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate countries: %w", err)
	}
	return out, nil
}

// InsertAll upserts all countries in one transaction.
func (s *SQLiteStore) InsertAll(ctx context.Context, countries []models.Country) (retErr error) {
	defer func(start time.Time) { observe(BackendSQLite, "insert_all", start, retErr) }(time.Now())
	if len(countries) == 0 {
		return ctx.Err()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, upsertCountry)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, c := range countries {
		if _, err := stmt.ExecContext(ctx, c.Name, c.DriveSide); err != nil {
			return fmt.Errorf("upsert %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}
