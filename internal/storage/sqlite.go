package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps posted links in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between the bot and status readers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	version, err := runMigrations(driver, "sqlite", "migrations/sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("sqlite store ready", "path", path, "schema_version", version)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posted WHERE link = ? LIMIT 1`, link).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Record(ctx context.Context, title, link string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posted (title, link, recorded_at) VALUES (?, ?, ?) ON CONFLICT (link) DO NOTHING`,
		title, link, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record link: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posted`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]PostedRecord, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, link, recorded_at FROM posted ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}

	return scanRecords(rows, func(rows *sql.Rows, r *PostedRecord) error {
		var recorded string
		if err := rows.Scan(&r.ID, &r.Title, &r.Link, &recorded); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return fmt.Errorf("record %d: bad recorded_at %q: %w", r.ID, recorded, err)
		}
		r.RecordedAt = t
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
