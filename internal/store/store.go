// Package store is the Postgres-backed relational store: Bot,
// AllowedOrigin, ProviderConfig, Visitor, ChatSession, ChatMessage and
// Document, the persisted entities the gateway owns (§3).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for sqlx
)

// Store wraps a *sqlx.DB, following the short-lived-transaction-per-op shape
// of internal/persistence/store.go, translated from SQLite to Postgres.
type Store struct {
	db *sqlx.DB
}

// Config mirrors internal/config.StoreConfig.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an already-open *sqlx.DB (or sqlmock-backed db) without
// running schema migrations, used by unit tests.
func OpenWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and migrations tooling.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PoolConfig builds a pgxpool.Config from a DSN, exposed for callers (e.g.
// the gateway's health check) that want pgx-native pool statistics rather
// than database/sql's.
func PoolConfig(dsn string) (*pgxpool.Config, error) {
	return pgxpool.ParseConfig(dsn)
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS bots (
	id TEXT PRIMARY KEY,
	public_key TEXT NOT NULL UNIQUE,
	provider_config_id TEXT,
	display_config JSONB NOT NULL DEFAULT '{}',
	collection_name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	assessment_questions JSONB NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'created',
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS allowed_origins (
	bot_id TEXT PRIMARY KEY REFERENCES bots(id) ON DELETE CASCADE,
	origin_url TEXT NOT NULL,
	crawl_seed_urls JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS provider_configs (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	credentials JSONB NOT NULL DEFAULT '[]',
	tuning JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS visitors (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	client_ip TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	lead_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	lead_category TEXT NOT NULL DEFAULT 'cold',
	assessment JSONB NOT NULL DEFAULT '{}',
	is_new BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (bot_id, client_ip)
);

CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	visitor_id TEXT NOT NULL REFERENCES visitors(id) ON DELETE CASCADE,
	token TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'active',
	long_term_memory TEXT NOT NULL DEFAULT '',
	is_contact BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	query TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	source_type TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	content_hash TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (bot_id, content_hash)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
