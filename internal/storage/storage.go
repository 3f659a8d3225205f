// Package storage persists the links that were already published so each
// article is posted at most once.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

var ErrUnknownDriver = errors.New("unknown store driver")

// PostedRecord is one published (or permanently rejected) link.
type PostedRecord struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Link       string    `json:"link"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the deduplication store. Record is idempotent; recording a link
// that exists is a no-op.
type Store interface {
	Exists(ctx context.Context, link string) (bool, error)
	Record(ctx context.Context, title, link string) error
	Count(ctx context.Context) (int, error)
	Recent(ctx context.Context, n int) ([]PostedRecord, error)
	Close() error
}

// Options selects and configures a Store.
type Options struct {
	Driver      string // sqlite, postgres or file
	DBPath      string
	DatabaseURL string
	FilePath    string
}

// Open returns the store for opts.Driver with its schema migrated.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case "sqlite", "":
		store, err = NewSQLiteStore(ctx, opts.DBPath)
	case "postgres":
		store, err = NewPostgresStore(ctx, opts.DatabaseURL)
	case "file":
		store, err = NewFileStore(opts.FilePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// runMigrations applies the embedded migrations under dir through driver
// and returns the resulting schema version.
func runMigrations(driver database.Driver, dialect, dir string) (uint, error) {
	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func scanRecords(rows *sql.Rows, scan func(*sql.Rows, *PostedRecord) error) ([]PostedRecord, error) {
	defer rows.Close()

	var out []PostedRecord
	for rows.Next() {
		var r PostedRecord
		if err := scan(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
