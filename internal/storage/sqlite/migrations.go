package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jirametrics/jx/internal/storage/sqlite/migrations"
)

// Migration is one idempotent schema step. Every migration runs on every open
// and must be a no-op when its work is already done.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"issue_columns", migrations.MigrateIssueColumns},
	{"unique_natural_keys", migrations.MigrateUniqueNaturalKeys},
}

// ListMigrations returns the names of all migrations in order.
func ListMigrations() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}

// RunMigrations brings db up to the current schema.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}
