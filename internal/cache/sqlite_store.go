package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/at-ishikawa/wordhub/internal/metrics"
)

var _ DurableStore = (*SQLiteStore)(nil)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		size INTEGER NOT NULL,
		inserted_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_inserted_at ON cache_entries (inserted_at)`,
}

type sqliteEntry struct {
	Key        string `db:"cache_key"`
	Value      []byte `db:"value"`
	InsertedAt int64  `db:"inserted_at"`
}

// SQLiteStore keeps cache entries in a single SQLite table.
type SQLiteStore struct {
	db       *sqlx.DB
	maxBytes int64
}

// NewSQLiteStore opens (or creates) the database at path. maxBytes of zero
// means the table is not bounded.
func NewSQLiteStore(path string, maxBytes int64) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create cache table: %w", err)
		}
	}
	return &SQLiteStore{db: db, maxBytes: maxBytes}, nil
}

// Get implements DurableStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var row sqliteEntry
	err := s.db.GetContext(ctx, &row, `SELECT cache_key, value, inserted_at FROM cache_entries WHERE cache_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select cache entry: %w", err)
	}
	return &Entry{
		Key:        row.Key,
		Value:      row.Value,
		InsertedAt: time.Unix(0, row.InsertedAt).UTC(),
	}, nil
}

// Put implements DurableStore.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	size := int64(len(e.Key) + len(e.Value))
	if s.maxBytes > 0 && size > s.maxBytes {
		return fmt.Errorf("entry %s is %d bytes, larger than the cache limit of %d bytes", e.Key, size, s.maxBytes)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO cache_entries (cache_key, value, size, inserted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET value = excluded.value, size = excluded.size, inserted_at = excluded.inserted_at`,
		e.Key, e.Value, size, e.InsertedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	evicted, err := s.evict(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if evicted > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues(metrics.TierDurable, metrics.ReasonCapacity).Add(float64(evicted))
	}
	return nil
}

// evict deletes the oldest rows until the table fits in maxBytes.
func (s *SQLiteStore) evict(ctx context.Context, tx *sqlx.Tx) (int, error) {
	if s.maxBytes <= 0 {
		return 0, nil
	}
	var total int64
	if err := tx.GetContext(ctx, &total, `SELECT COALESCE(SUM(size), 0) FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("sum cache size: %w", err)
	}
	if total <= s.maxBytes {
		return 0, nil
	}

	var rows []struct {
		Key  string `db:"cache_key"`
		Size int64  `db:"size"`
	}
	if err := tx.SelectContext(ctx, &rows, `SELECT cache_key, size FROM cache_entries ORDER BY inserted_at, cache_key`); err != nil {
		return 0, fmt.Errorf("select cache entries: %w", err)
	}
	var evicted int
	for _, row := range rows {
		if total <= s.maxBytes {
			break
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, row.Key); err != nil {
			return 0, fmt.Errorf("evict cache entry: %w", err)
		}
		total -= row.Size
		evicted++
	}
	return evicted, nil
}

// Remove implements DurableStore.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear implements DurableStore.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// Size returns the number of bytes accounted in the table.
func (s *SQLiteStore) Size(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(size), 0) FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("sum cache size: %w", err)
	}
	return total, nil
}

// Close implements DurableStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
