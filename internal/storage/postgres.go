package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore implements Store on a single PostgreSQL table
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config holds database configuration
type Config struct {
	// URL, when set, is used as the connection string and the fields below are ignored
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "shadowvault",
		Password: "",
		Database: "shadowvault",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// ConnString returns the pgx connection string for cfg
func (cfg *Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)
}

// NewPostgresStore connects, pings and migrates the schema
func NewPostgresStore(ctx context.Context, cfg *Config, log zerolog.Logger) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	s := &PostgresStore{
		pool: pool,
		log:  log.With().Str("module", "storage").Logger(),
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ============================================
// Schema
// ============================================

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key        BYTEA PRIMARY KEY,
		value      BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// Migrate creates the kv table if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	s.log.Debug().Msg("schema ready")
	return nil
}

// ============================================
// Reads and transactions
// ============================================

// Get reads the committed value at key
func (s *PostgresStore) Get(ctx context.Context, key Key) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key[:]).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Update runs fn in a database transaction. Reads inside fn lock the rows
// they touch, so two writers on the same accumulator serialize.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Txn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTxn{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTxn struct {
	tx pgx.Tx
}

func (t *pgTxn) Get(ctx context.Context, key Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1 FOR UPDATE`, key[:]).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (t *pgTxn) Create(ctx context.Context, key Key, value []byte) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key[:], value,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *pgTxn) Replace(ctx context.Context, key Key, value []byte) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE kv SET value = $2, updated_at = now() WHERE key = $1`,
		key[:], value,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
