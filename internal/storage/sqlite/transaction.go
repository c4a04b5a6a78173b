package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
)

// isBusy reports whether err means another connection holds the write lock.
func isBusy(err error) bool {
	return errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED)
}

// withRetry runs fn, retrying with exponential backoff while it fails with
// SQLITE_BUSY or SQLITE_LOCKED. Other errors are returned immediately.
func (s *SQLiteStorage) withRetry(ctx context.Context, fn func() error) error {
	delay := s.backoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) || attempt >= s.retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (gave up waiting for lock: %v)", err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil && isBusy(err) {
		return fmt.Errorf("database is locked after %d retries: %w", s.retries, err)
	}
	return err
}

// runInTransaction executes fn inside a BEGIN IMMEDIATE transaction on a
// dedicated connection. The whole transaction is retried when SQLite reports
// the database busy, either at BEGIN or at any statement inside fn.
func (s *SQLiteStorage) runInTransaction(ctx context.Context, fn func(conn *sql.Conn) error) error {
	return s.withRetry(ctx, func() error {
		return s.transactOnce(ctx, fn)
	})
}

func (s *SQLiteStorage) transactOnce(ctx context.Context, fn func(conn *sql.Conn) error) error {
	// BEGIN, the statements and COMMIT must run on the same connection.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// IMMEDIATE takes the write lock up front so a get-or-create cannot race
	// another worker between its SELECT and INSERT.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	// Use context.Background() for ROLLBACK so cleanup happens even if ctx is canceled
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// dbConn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
