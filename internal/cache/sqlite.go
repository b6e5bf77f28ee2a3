package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteStore keeps the encoded entry in a one-row-per-key table so that
// several processes on one host can share a snapshot through a file.
type sqliteStore struct {
	db  *sql.DB
	key string
}

func newSQLiteStore(ctx context.Context, dbPath, key string) (*sqliteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite cache path is empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &sqliteStore{db: db, key: key}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS snapshot_cache (
		cache_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

func (s *sqliteStore) Name() string {
	return BackendSQLite
}

func (s *sqliteStore) Get(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshot_cache WHERE cache_key = ?`, s.key,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (s *sqliteStore) Set(ctx context.Context, raw []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot_cache (cache_key, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		s.key, raw,
	)
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
