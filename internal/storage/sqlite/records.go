package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/types"
)

func lookupColumn(table storage.LookupTable) (string, error) {
	switch table {
	case storage.Project:
		return "project_id", nil
	case storage.Resolution, storage.Status, storage.Type:
		return "name", nil
	}
	return "", fmt.Errorf("unknown lookup table %q", table)
}

// GetOrCreate returns the id of the lookup row named name, inserting it on first sight.
func (s *SQLiteStorage) GetOrCreate(ctx context.Context, table storage.LookupTable, name string) (int64, error) {
	var id int64
	err := s.runInTransaction(ctx, func(conn *sql.Conn) error {
		var err error
		id, err = getOrCreate(ctx, conn, table, name)
		return err
	})
	return id, err
}

func getOrCreate(ctx context.Context, conn dbConn, table storage.LookupTable, name string) (int64, error) {
	col, err := lookupColumn(table)
	if err != nil {
		return 0, err
	}

	var id int64
	err = conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE %s = ?`, table, col), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up %s %q: %w", table, name, err)
	}

	res, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?)`, table, col), name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s %q: %w", table, name, err)
	}
	return res.LastInsertId()
}

// UpsertVersion inserts or overwrites the version row keyed by the JIRA version id.
func (s *SQLiteStorage) UpsertVersion(ctx context.Context, v *types.Version) (int64, error) {
	var id int64
	err := s.runInTransaction(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			INSERT INTO version (version_id, name, archived, released, start_date, released_date)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (version_id) DO UPDATE SET
				name = excluded.name,
				archived = excluded.archived,
				released = excluded.released,
				start_date = excluded.start_date,
				released_date = excluded.released_date
			RETURNING id
		`, v.ID, v.Name, v.Archived, v.Released, nullIfEmpty(v.StartDate), nullIfEmpty(v.ReleaseDate)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert version %s: %w", v.Name, err)
	}
	return id, nil
}

// UpsertSprint inserts or overwrites the sprint row keyed by the JIRA sprint id.
func (s *SQLiteStorage) UpsertSprint(ctx context.Context, sp *types.Sprint) (int64, error) {
	var id int64
	err := s.runInTransaction(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			INSERT INTO sprint (sprint_id, name, sequence, state, goal, start_date, end_date, complete_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (sprint_id) DO UPDATE SET
				name = excluded.name,
				sequence = excluded.sequence,
				state = excluded.state,
				goal = excluded.goal,
				start_date = excluded.start_date,
				end_date = excluded.end_date,
				complete_date = excluded.complete_date
			RETURNING id
		`, sp.ID, sp.Name, sp.Sequence, sp.State, nullIfEmpty(sp.Goal),
			nullIfEmpty(sp.StartDate), nullIfEmpty(sp.EndDate), nullIfEmpty(sp.CompleteDate)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert sprint %d: %w", sp.ID, err)
	}
	return id, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
