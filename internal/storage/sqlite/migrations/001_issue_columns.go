package migrations

import (
	"database/sql"
	"fmt"
)

// issueColumns were added to the issue table after the first databases were
// produced. Older files lack some or all of them.
var issueColumns = []struct {
	name string
	decl string
}{
	{"epic_name", "TEXT"},
	{"tshirt_size", "TEXT"},
	{"linked_theme", "TEXT"},
	{"raw_value", "TEXT"},
}

// MigrateIssueColumns adds any missing optional issue columns.
func MigrateIssueColumns(db *sql.DB) error {
	existing, err := tableColumns(db, "issue")
	if err != nil {
		return err
	}

	for _, col := range issueColumns {
		if existing[col.name] {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE issue ADD COLUMN %s %s`, col.name, col.decl)); err != nil {
			return fmt.Errorf("failed to add %s column: %w", col.name, err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to check schema: %w", err)
	}

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error reading column info: %w", err)
	}

	// Close rows before executing any statements to avoid deadlock with MaxOpenConns(1)
	rows.Close()
	return columns, nil
}
