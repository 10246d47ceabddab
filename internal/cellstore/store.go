// Package cellstore manages the per-cell storage files. Every cell owns an
// isolated SQLite database under <base>/<cell_key>/data.db holding its rows
// and a small metadata table.
package cellstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

const (
	dataFileName = "data.db"

	// maxRetries bounds retry attempts on transient storage errors, giving
	// three attempts in total.
	maxRetries = 2
)

const schema = `
CREATE TABLE IF NOT EXISTS data (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Row is a single stored record with its timestamps. Value holds the
// serialized payload exactly as it was written (plain JSON or an encryption
// envelope).
type Row struct {
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// cell is one open cell database guarded by a single-writer lock.
type cell struct {
	db *sql.DB
	mu sync.RWMutex
}

// Store opens and caches per-cell databases. Writes to a cell are serialized
// through the cell's lock; reads proceed concurrently.
type Store struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.Mutex
	cells map[string]*cell
}

// NewStore creates a store rooted at baseDir, creating the directory if
// needed.
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cells directory: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		cells:   make(map[string]*cell),
	}, nil
}

// Create initializes the storage file for a new cell and records its creation
// metadata.
func (s *Store) Create(ctx context.Context, cellKey, ownerID string) error {
	c, err := s.open(cellKey, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.withRetry(ctx, func() error {
		_, err := c.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO metadata (key, value) VALUES ('created_at', ?), ('owner_id', ?)`,
			now, ownerID,
		)
		return err
	})
}

// Put inserts or replaces a record, preserving created_at on update.
func (s *Store) Put(ctx context.Context, cellKey, key, value string) error {
	c, err := s.open(cellKey, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.withRetry(ctx, func() error {
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO data (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now, now,
		)
		return err
	})
}

// Get returns a single record or ErrNotFound.
func (s *Store) Get(ctx context.Context, cellKey, key string) (*Row, error) {
	c, err := s.open(cellKey, false)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var row Row
	var createdAt, updatedAt string
	err = c.db.QueryRowContext(ctx,
		`SELECT key, value, created_at, updated_at FROM data WHERE key = ?`, key,
	).Scan(&row.Key, &row.Value, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "key not found: "+key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	row.CreatedAt = parseTimestamp(createdAt)
	row.UpdatedAt = parseTimestamp(updatedAt)
	return &row, nil
}

// Delete removes a record. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, cellKey, key string) error {
	c, err := s.open(cellKey, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return s.withRetry(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `DELETE FROM data WHERE key = ?`, key)
		return err
	})
}

// ListKeys returns every stored key in lexical order.
func (s *Store) ListKeys(ctx context.Context, cellKey string) ([]string, error) {
	c, err := s.open(cellKey, false)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT key FROM data ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Scan returns every record in the cell in lexical key order.
func (s *Store) Scan(ctx context.Context, cellKey string) ([]Row, error) {
	c, err := s.open(cellKey, false)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT key, value, created_at, updated_at FROM data ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan cell: %w", err)
	}
	defer rows.Close()

	result := make([]Row, 0)
	for rows.Next() {
		var row Row
		var createdAt, updatedAt string
		if err := rows.Scan(&row.Key, &row.Value, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		row.CreatedAt = parseTimestamp(createdAt)
		row.UpdatedAt = parseTimestamp(updatedAt)
		result = append(result, row)
	}
	return result, rows.Err()
}

// Metadata returns the cell's metadata rows.
func (s *Store) Metadata(ctx context.Context, cellKey string) (map[string]string, error) {
	c, err := s.open(cellKey, false)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

// StorageBytes reports the total size of all cell storage files.
func (s *Store) StorageBytes() (int64, error) {
	var total int64
	err := filepath.Walk(s.baseDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure storage: %w", err)
	}
	return total, nil
}

// Close closes every open cell database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var g errgroup.Group
	for key, c := range s.cells {
		g.Go(c.db.Close)
		delete(s.cells, key)
	}
	return g.Wait()
}

// open returns the cached handle for a cell, opening it on demand. When
// create is false, a cell without a storage file yields ErrNotFound.
func (s *Store) open(cellKey string, create bool) (*cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cells[cellKey]; ok {
		return c, nil
	}

	dir := filepath.Join(s.baseDir, cellKey)
	path := filepath.Join(dir, dataFileName)

	if create {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cell directory: %w", err)
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "cell storage not found: "+cellKey)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cell storage: %w", err)
	}
	// One connection per cell keeps SQLite writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cell schema: %w", err)
	}

	c := &cell{db: db}
	s.cells[cellKey] = c
	return c, nil
}

// withRetry retries fn on transient SQLite errors with exponential backoff.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			s.logger.Warn("transient cell storage error, retrying", slog.Any("error", err))
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// isTransient reports whether an error is a retryable SQLite contention error.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
