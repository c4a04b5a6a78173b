// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/jirametrics/jx/internal/storage"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db      *sql.DB
	dbPath  string
	links   storage.LinkMode
	retries int
	backoff time.Duration
	closed  atomic.Bool // Tracks whether Close() has been called
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// Options tunes write behavior. Zero values select the defaults.
type Options struct {
	// Links selects how join rows are written.
	Links storage.LinkMode
	// Retries bounds how often a write transaction is retried on BUSY/LOCKED.
	Retries int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff time.Duration
	// BusyTimeout is the SQLite busy_timeout applied to every connection.
	BusyTimeout time.Duration
}

const (
	defaultRetries     = 5
	defaultBackoff     = 50 * time.Millisecond
	defaultBusyTimeout = 5 * time.Second
)

// setupWASMCache configures WASM compilation caching to reduce SQLite startup time.
// Returns the cache directory path (empty string if using in-memory cache).
//
// Cache behavior:
//   - Location: ~/.cache/jx/wasm/ (platform-specific via os.UserCacheDir)
//   - Version management: wazero keys the cache by its version
//   - Fallback: Uses in-memory cache if filesystem cache creation fails
//
// Each worker opens its own database handle, so the compiled module is shared
// across all of them and across runs.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "jx", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	// Fallback to in-memory cache if dir creation failed
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// New opens (creating if needed) the database at path, applies the schema and
// migrations and checks that the stored schema version is one this binary can write.
func New(path string, opts Options) (*SQLiteStorage, error) {
	if opts.Links == "" {
		opts.Links = storage.LinkReconcile
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}

	pragmas := fmt.Sprintf("_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", opts.BusyTimeout.Milliseconds())
	var connStr string
	if strings.HasPrefix(path, "file:") {
		// Already a URI - append our pragmas if not present
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			connStr += sep + pragmas
		}
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL lets the other workers read while one of them writes.
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&" + pragmas
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStorage{
		db:      db,
		dbPath:  path,
		links:   opts.Links,
		retries: opts.Retries,
		backoff: opts.Backoff,
	}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !strings.HasPrefix(path, "file:") {
		if abs, err := filepath.Abs(path); err == nil {
			s.dbPath = abs
		}
	}
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	ctx := context.Background()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Several workers open the same file at once; schema setup is serialized
	// through the same retried write path as everything else.
	err := s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return RunMigrations(s.db)
	})
	if err != nil {
		return err
	}

	if err := verifySchemaCompatibility(s.db); err != nil {
		// Schema probe failed - retry migrations once
		if retryErr := RunMigrations(s.db); retryErr != nil {
			return fmt.Errorf("migration retry failed after schema probe failure: %w (original: %v)", retryErr, err)
		}
		if err := verifySchemaCompatibility(s.db); err != nil {
			return fmt.Errorf("schema probe failed after migration retry: %w. Run 'jx doctor' to diagnose", err)
		}
	}

	return s.withRetry(ctx, func() error {
		return checkSchemaVersion(ctx, s.db)
	})
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// IsClosed returns true if Close() has been called on this storage
func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// LinkMode returns how join rows are written.
func (s *SQLiteStorage) LinkMode() storage.LinkMode {
	return s.links
}

// UnderlyingDB returns the underlying *sql.DB connection.
//
// DO NOT call Close() on the returned *sql.DB; the SQLiteStorage owns the
// connection lifecycle. Writes must go through the storage methods so they take
// part in the BUSY retry policy.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}

// CheckpointWAL checkpoints the WAL file to flush changes to the main database file.
func (s *SQLiteStorage) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)")
	return err
}

// Count returns the number of rows in one of the jx tables.
func (s *SQLiteStorage) Count(ctx context.Context, table string) (int, error) {
	if _, ok := expectedSchema[table]; !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
