package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the connection pool to stores sharing the database.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) interface{ Scan(...any) error } {
	return db.pool.QueryRow(ctx, sql, args...)
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS releases (
			id           TEXT PRIMARY KEY,
			ref          TEXT NOT NULL,
			commit_sha   TEXT NOT NULL DEFAULT '',
			trigger      JSONB NOT NULL DEFAULT '{}',
			image_tag    TEXT NOT NULL DEFAULT '',
			images       JSONB NOT NULL DEFAULT '[]',
			status       TEXT NOT NULL DEFAULT 'queued',
			stages       JSONB NOT NULL DEFAULT '[]',
			failed_stage TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_releases_ref ON releases(ref, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_releases_status ON releases(status);

		CREATE TABLE IF NOT EXISTS health_checks (
			id          TEXT PRIMARY KEY,
			service     TEXT NOT NULL,
			url         TEXT NOT NULL,
			healthy     BOOLEAN NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_ms INTEGER NOT NULL DEFAULT 0,
			checked_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_health_checks_service_time
			ON health_checks(service, checked_at DESC);
	`)
	return err
}
