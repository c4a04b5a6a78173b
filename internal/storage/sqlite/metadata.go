package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// CurrentSchemaVersion is the schema this binary writes. A database stamped with
// a different major version is refused.
const CurrentSchemaVersion = "1.1.0"

const schemaVersionKey = "schema_version"

func checkSchemaVersion(ctx context.Context, db dbConn) error {
	stored, err := getMetadata(ctx, db, schemaVersionKey)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	current := "v" + CurrentSchemaVersion
	if stored != "" {
		sv := "v" + stored
		if !semver.IsValid(sv) {
			return fmt.Errorf("%w: unreadable schema version %q", ErrSchemaIncompatible, stored)
		}
		if semver.Major(sv) != semver.Major(current) {
			return fmt.Errorf("%w: database is at schema %s, this jx writes %s", ErrSchemaIncompatible, stored, CurrentSchemaVersion)
		}
		// Never stamp a newer minor version back down.
		if semver.Compare(sv, current) >= 0 {
			return nil
		}
	}
	return setMetadata(ctx, db, schemaVersionKey, CurrentSchemaVersion)
}

// SchemaVersion returns the schema version stamped in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (string, error) {
	return getMetadata(ctx, s.db, schemaVersionKey)
}

// GetMetadata gets a metadata value
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	return getMetadata(ctx, s.db, key)
}

// SetMetadata sets a metadata value
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	return s.withRetry(ctx, func() error {
		return setMetadata(ctx, s.db, key, value)
	})
}

func getMetadata(ctx context.Context, db dbConn, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func setMetadata(ctx context.Context, db dbConn, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
