// Package store provides the PostgreSQL persistence layer: users, share
// links, settings, API keys, and the durable folder size cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
)

// Store wraps the database handle and owns schema bootstrap.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for components that run their own
// queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Init creates the schema if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			can_upload BOOLEAN NOT NULL DEFAULT FALSE,
			can_delete BOOLEAN NOT NULL DEFAULT FALSE,
			can_access_private BOOLEAN NOT NULL DEFAULT FALSE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS shares (
			id TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			password TEXT,
			created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			key_hash TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS folder_sizes (
			path TEXT PRIMARY KEY,
			size BIGINT NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	logging.Info("database schema ready")
	return nil
}

// GetSetting returns a settings value, or "" when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// UpdateConnectionMetrics publishes pool stats to the metrics registry.
func (s *Store) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

// FolderSizeCache is the durable files.SizeCache backed by the
// folder_sizes table. Errors are logged, not returned: the cache is a
// best-effort layer and a failed lookup just means a recompute.
type FolderSizeCache struct {
	db *sql.DB
}

// NewFolderSizeCache creates a cache over the store's folder_sizes table.
func NewFolderSizeCache(s *Store) *FolderSizeCache {
	return &FolderSizeCache{db: s.db}
}

var _ files.SizeCache = (*FolderSizeCache)(nil)

// Get returns the cached size for a relative path.
func (c *FolderSizeCache) Get(rel string) (int64, bool) {
	var size int64
	err := c.db.QueryRow(
		`SELECT size FROM folder_sizes WHERE path = $1`, rel).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, false
	}
	if err != nil {
		logging.Warn("folder size lookup failed", zap.String("path", rel), zap.Error(err))
		return 0, false
	}
	return size, true
}

// Put stores a computed size.
func (c *FolderSizeCache) Put(rel string, size int64) {
	_, err := c.db.Exec(
		`INSERT INTO folder_sizes (path, size, computed_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (path) DO UPDATE SET size = EXCLUDED.size, computed_at = NOW()`,
		rel, size)
	if err != nil {
		logging.Warn("folder size store failed", zap.String("path", rel), zap.Error(err))
	}
}

// Invalidate drops the entry for rel, every descendant, and every
// ancestor up to the root. Mutations change sizes along the whole chain,
// so the chain is cleared before the response goes out.
func (c *FolderSizeCache) Invalidate(rel string) {
	rel = files.Normalize(rel)
	if rel == "" {
		// The root key has no LIKE pattern that matches its children.
		if _, err := c.db.Exec(`DELETE FROM folder_sizes`); err != nil {
			logging.Warn("folder size invalidation failed", zap.String("path", rel), zap.Error(err))
		}
		return
	}
	_, err := c.db.Exec(
		`DELETE FROM folder_sizes WHERE path = $1 OR path LIKE $2`,
		rel, rel+"/%")
	if err != nil {
		logging.Warn("folder size invalidation failed", zap.String("path", rel), zap.Error(err))
		return
	}
	for _, ancestor := range files.Ancestors(rel) {
		if _, err := c.db.Exec(`DELETE FROM folder_sizes WHERE path = $1`, ancestor); err != nil {
			logging.Warn("folder size invalidation failed", zap.String("path", ancestor), zap.Error(err))
			return
		}
	}
}
