package migrations

import (
	"database/sql"
	"fmt"
	"strings"
)

type reference struct {
	table  string
	column string
}

type naturalKey struct {
	table   string
	index   string
	columns []string
	// refs point at table.id and are moved onto the surviving row.
	refs []reference
}

// Parents come before the association tables: repointing references can turn
// distinct association rows into duplicates.
var naturalKeys = []naturalKey{
	{"version", "idx_version_version_id", []string{"version_id"},
		[]reference{{"issue_fix_version", "version_id"}, {"issue_affects_version", "version_id"}}},
	{"project", "idx_project_project_id", []string{"project_id"}, []reference{{"issue", "project_id"}}},
	{"resolution", "idx_resolution_name", []string{"name"}, []reference{{"issue", "resolution_id"}}},
	{"status", "idx_status_name", []string{"name"}, []reference{{"issue", "status_id"}}},
	{"type", "idx_type_name", []string{"name"}, []reference{{"issue", "type_id"}}},
	{"sprint", "idx_sprint_sprint_id", []string{"sprint_id"}, []reference{{"issue_sprints", "sprint_id"}}},
	{"issue", "idx_issue_key", []string{"key"},
		[]reference{{"issue_sprints", "issue_id"}, {"issue_fix_version", "issue_id"}, {"issue_affects_version", "issue_id"}}},
	{"issue_sprints", "idx_issue_sprints_pair", []string{"issue_id", "sprint_id"}, nil},
	{"issue_fix_version", "idx_issue_fix_version_pair", []string{"issue_id", "version_id"}, nil},
	{"issue_affects_version", "idx_issue_affects_version_pair", []string{"issue_id", "version_id"}, nil},
}

// MigrateUniqueNaturalKeys collapses duplicate natural-key rows left by
// databases written without unique indexes, keeping the oldest row of each
// group, and then creates the unique indexes.
func MigrateUniqueNaturalKeys(db *sql.DB) error {
	for _, k := range naturalKeys {
		var exists int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, k.index).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", k.index, err)
		}
		if exists > 0 {
			continue
		}
		if err := dedupe(db, k); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(db *sql.DB, k naturalKey) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	match := make([]string, len(k.columns))
	for i, c := range k.columns {
		match[i] = fmt.Sprintf("d.%s = t.%s", c, c)
	}
	same := strings.Join(match, " AND ")
	// Rows of k.table that are not the first of their natural-key group.
	duplicates := fmt.Sprintf(`SELECT t.id FROM %[1]s t WHERE t.id > (SELECT MIN(d.id) FROM %[1]s d WHERE %[2]s)`, k.table, same)

	for _, ref := range k.refs {
		_, err := tx.Exec(fmt.Sprintf(`
			UPDATE %[1]s SET %[2]s = (
				SELECT MIN(d.id) FROM %[3]s d JOIN %[3]s t ON %[4]s WHERE t.id = %[1]s.%[2]s
			)
			WHERE %[2]s IN (%[5]s)`, ref.table, ref.column, k.table, same, duplicates))
		if err != nil {
			return fmt.Errorf("failed to repoint %s.%s: %w", ref.table, ref.column, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, k.table, duplicates)); err != nil {
		return fmt.Errorf("failed to remove duplicate %s rows: %w", k.table, err)
	}

	_, err = tx.Exec(fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)`, k.index, k.table, strings.Join(k.columns, ", ")))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", k.index, err)
	}

	return tx.Commit()
}
