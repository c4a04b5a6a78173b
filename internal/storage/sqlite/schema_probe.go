// Package sqlite - schema compatibility probing
package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// ErrSchemaIncompatible is returned when the database schema is incompatible with the current version
var ErrSchemaIncompatible = fmt.Errorf("database schema is incompatible")

// expectedSchema defines all expected tables and their required columns
// This is used to verify migrations completed successfully
var expectedSchema = map[string][]string{
	"version":    {"id", "version_id", "name", "archived", "released", "start_date", "released_date"},
	"project":    {"id", "project_id"},
	"resolution": {"id", "name"},
	"status":     {"id", "name"},
	"type":       {"id", "name"},
	"sprint":     {"id", "sprint_id", "name", "sequence", "state", "goal", "start_date", "end_date", "complete_date"},
	"issue": {
		"id", "key", "summary", "epic_name", "labels", "creation_date", "resolution_date",
		"updated_date", "start_date", "due_date", "priority", "assignee", "reporter",
		"components", "epic_link", "story_points", "tshirt_size", "linked_theme",
		"resolution_id", "status_id", "type_id", "project_id", "raw_value",
	},
	"issue_sprints":         {"issue_id", "sprint_id"},
	"issue_fix_version":     {"issue_id", "version_id"},
	"issue_affects_version": {"issue_id", "version_id"},
	"metadata":              {"key", "value"},
}

// SchemaProbeResult contains the results of a schema compatibility check
type SchemaProbeResult struct {
	Compatible     bool
	MissingTables  []string
	MissingColumns map[string][]string // table -> missing columns
	ErrorMessage   string
}

// ProbeSchema verifies all expected tables and columns exist
// Returns SchemaProbeResult with details about any missing schema elements
func ProbeSchema(db *sql.DB) SchemaProbeResult {
	result := SchemaProbeResult{
		Compatible:     true,
		MissingTables:  []string{},
		MissingColumns: make(map[string][]string),
	}

	tables := make([]string, 0, len(expectedSchema))
	for table := range expectedSchema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		expectedCols := expectedSchema[table]
		query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(expectedCols, ", "), table)
		_, err := db.Exec(query)
		if err == nil {
			continue
		}

		errMsg := err.Error()
		if strings.Contains(errMsg, "no such table") {
			result.Compatible = false
			result.MissingTables = append(result.MissingTables, table)
			continue
		}
		if strings.Contains(errMsg, "no such column") {
			result.Compatible = false
			if missingCols := findMissingColumns(db, table, expectedCols); len(missingCols) > 0 {
				result.MissingColumns[table] = missingCols
			}
		}
	}

	if !result.Compatible {
		var parts []string
		if len(result.MissingTables) > 0 {
			parts = append(parts, fmt.Sprintf("missing tables: %s", strings.Join(result.MissingTables, ", ")))
		}
		for _, table := range tables {
			if cols, ok := result.MissingColumns[table]; ok {
				parts = append(parts, fmt.Sprintf("missing columns in %s: %s", table, strings.Join(cols, ", ")))
			}
		}
		result.ErrorMessage = strings.Join(parts, "; ")
	}

	return result
}

// findMissingColumns determines which columns are missing from a table
func findMissingColumns(db *sql.DB, table string, expectedCols []string) []string {
	missing := []string{}
	for _, col := range expectedCols {
		query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", col, table)
		_, err := db.Exec(query)
		if err != nil && strings.Contains(err.Error(), "no such column") {
			missing = append(missing, col)
		}
	}
	return missing
}

// verifySchemaCompatibility runs schema probe and returns detailed error on failure
func verifySchemaCompatibility(db *sql.DB) error {
	result := ProbeSchema(db)
	if !result.Compatible {
		return fmt.Errorf("%w: %s", ErrSchemaIncompatible, result.ErrorMessage)
	}
	return nil
}
