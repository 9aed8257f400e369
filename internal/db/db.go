package db

import (
	"context"
	"errors"

	"homerules/internal/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps pgxpool.Pool for database operations
type DB struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new DB connection pool
func NewDB(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool, logger: utils.Component("DB")}, nil
}

// Close closes the connection pool
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		parameters JSONB NOT NULL DEFAULT '[]',
		state JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS device_states_history (
		id BIGSERIAL PRIMARY KEY,
		rule_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		state JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_events (
		id BIGSERIAL PRIMARY KEY,
		calendar TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables the engine needs
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	d.logger.Debug().Int("tables", len(schema)).Msg("schema ready")
	return nil
}
