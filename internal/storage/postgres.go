package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

// PostgresStore keeps posted links in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	version, err := runMigrations(driver, "postgres", "migrations/postgres")
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("postgres store ready", "schema_version", version)
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Exists(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posted WHERE link = $1)`, link).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return exists, nil
}

// Record inserts the link; the UNIQUE constraint turns concurrent or
// repeated inserts into no-ops.
func (p *PostgresStore) Record(ctx context.Context, title, link string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO posted (title, link, recorded_at) VALUES ($1, $2, NOW()) ON CONFLICT (link) DO NOTHING`,
		title, link,
	)
	if err != nil {
		return fmt.Errorf("failed to record link: %w", err)
	}
	return nil
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posted`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) Recent(ctx context.Context, n int) ([]PostedRecord, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, title, link, recorded_at FROM posted ORDER BY recorded_at DESC, id DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}

	return scanRecords(rows, func(rows *sql.Rows, r *PostedRecord) error {
		return rows.Scan(&r.ID, &r.Title, &r.Link, &r.RecordedAt)
	})
}

func (p *PostgresStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
