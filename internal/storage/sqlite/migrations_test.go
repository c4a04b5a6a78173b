package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jirametrics/jx/internal/types"
)

// legacySchema is the layout written before unique indexes and the later issue
// columns existed.
const legacySchema = `
CREATE TABLE version (id INTEGER PRIMARY KEY AUTOINCREMENT, version_id TEXT, name TEXT, archived BOOLEAN, released BOOLEAN, start_date TEXT, released_date TEXT);
CREATE TABLE project (id INTEGER PRIMARY KEY AUTOINCREMENT, project_id TEXT);
CREATE TABLE resolution (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
CREATE TABLE status (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
CREATE TABLE type (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
CREATE TABLE sprint (id INTEGER PRIMARY KEY AUTOINCREMENT, sprint_id INTEGER, name TEXT, sequence INTEGER, state TEXT, goal TEXT, start_date TEXT, end_date TEXT, complete_date TEXT);
CREATE TABLE issue (id INTEGER PRIMARY KEY AUTOINCREMENT, key TEXT, summary TEXT, labels TEXT, creation_date TEXT, resolution_date TEXT, updated_date TEXT, start_date TEXT, due_date TEXT, priority TEXT, assignee TEXT, reporter TEXT, components TEXT, epic_link TEXT, story_points TEXT, resolution_id INTEGER, status_id INTEGER, type_id INTEGER, project_id INTEGER);
CREATE TABLE issue_sprints (id INTEGER PRIMARY KEY AUTOINCREMENT, issue_id INTEGER, sprint_id INTEGER);
CREATE TABLE issue_fix_version (id INTEGER PRIMARY KEY AUTOINCREMENT, issue_id INTEGER, version_id INTEGER);
CREATE TABLE issue_affects_version (id INTEGER PRIMARY KEY AUTOINCREMENT, issue_id INTEGER, version_id INTEGER);

INSERT INTO version (id, version_id, name) VALUES (1, '100', 'v1'), (2, '100', 'v1'), (3, '101', 'v2');
INSERT INTO status (id, name) VALUES (1, 'Done'), (2, 'Done');
INSERT INTO sprint (id, sprint_id, name) VALUES (1, 42, 'S1'), (2, 42, 'S1');
INSERT INTO issue (id, key, summary, status_id) VALUES (1, 'P-1', 'old', 2), (2, 'P-1', 'dup', 1), (3, 'P-2', 'other', 1);
INSERT INTO issue_fix_version (issue_id, version_id) VALUES (1, 1), (2, 2), (3, 3);
INSERT INTO issue_sprints (issue_id, sprint_id) VALUES (1, 2), (1, 2), (2, 1);
`

func TestLegacyDatabaseIsDeduplicated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(legacySchema); err != nil {
		t.Fatalf("failed to create legacy database: %v", err)
	}
	_ = raw.Close()

	s := openTestStore(t, path, Options{})
	ctx := context.Background()

	for table, want := range map[string]int{
		"version":           2,
		"status":            1,
		"sprint":            1,
		"issue":             2,
		"issue_fix_version": 2,
		"issue_sprints":     1,
	} {
		if n := count(t, s, table); n != want {
			t.Errorf("%s has %d rows, want %d", table, n, want)
		}
	}

	got, err := s.GetIssue(ctx, "P-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 1 || got.StatusID != 1 || got.Status != "Done" {
		t.Errorf("P-1 = id %d status %d %q, want oldest row pointing at status 1", got.ID, got.StatusID, got.Status)
	}
	if diff := cmp.Diff([]string{"v1"}, got.FixVersions); diff != "" {
		t.Errorf("FixVersions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1}, got.SprintIDs); diff != "" {
		t.Errorf("SprintIDs mismatch (-want +got):\n%s", diff)
	}

	// The unique index now rejects a second row for the same key.
	if _, err := s.UnderlyingDB().Exec(`INSERT INTO issue (key) VALUES ('P-1')`); err == nil {
		t.Error("expected unique constraint violation")
	}

	// Upserts work against the migrated file.
	if _, err := s.StoreIssue(ctx, &types.Issue{Key: "P-1", Summary: "new", EpicName: "Epic"}); err != nil {
		t.Fatalf("StoreIssue on migrated database failed: %v", err)
	}
}

func TestListMigrations(t *testing.T) {
	want := []string{"issue_columns", "unique_natural_keys"}
	if diff := cmp.Diff(want, ListMigrations()); diff != "" {
		t.Errorf("ListMigrations() mismatch (-want +got):\n%s", diff)
	}
}
