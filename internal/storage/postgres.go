package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lorawan-server/udp-forwarder/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_logs (
	id          UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	gateway_id  TEXT NOT NULL,
	server      TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	level       TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	details     JSONB
);
CREATE INDEX IF NOT EXISTS idx_event_logs_created_at ON event_logs (created_at DESC);`

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store and makes sure the
// event_logs table exists.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
