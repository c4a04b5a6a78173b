package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sqlite3 "github.com/ncruces/go-sqlite3"

	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/types"
)

func newTestStore(t *testing.T, opts Options) *SQLiteStorage {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "jx.db"), opts)
}

func openTestStore(t *testing.T, path string, opts Options) *SQLiteStorage {
	t.Helper()
	s, err := New(path, opts)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", path, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func count(t *testing.T, s *SQLiteStorage, table string) int {
	t.Helper()
	n, err := s.Count(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestNewStampsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jx.db")
	s := openTestStore(t, path, Options{})
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != CurrentSchemaVersion {
		t.Errorf("SchemaVersion() = %q, want %q", v, CurrentSchemaVersion)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening runs schema and migrations again without effect.
	s = openTestStore(t, path, Options{})
	if v, _ := s.SchemaVersion(context.Background()); v != CurrentSchemaVersion {
		t.Errorf("SchemaVersion() after reopen = %q", v)
	}
}

func TestNewRejectsOtherMajorSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jx.db")
	s := openTestStore(t, path, Options{})
	if err := s.SetMetadata(context.Background(), schemaVersionKey, "2.0.0"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	_, err := New(path, Options{})
	if !errors.Is(err, ErrSchemaIncompatible) {
		t.Fatalf("New() error = %v, want ErrSchemaIncompatible", err)
	}
}

func TestNewKeepsNewerMinorSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jx.db")
	s := openTestStore(t, path, Options{})
	if err := s.SetMetadata(context.Background(), schemaVersionKey, "1.9.0"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s = openTestStore(t, path, Options{})
	if v, _ := s.SchemaVersion(context.Background()); v != "1.9.0" {
		t.Errorf("SchemaVersion() = %q, want 1.9.0", v)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	for _, table := range []storage.LookupTable{storage.Project, storage.Resolution, storage.Status, storage.Type} {
		first, err := s.GetOrCreate(ctx, table, "Done")
		if err != nil {
			t.Fatalf("GetOrCreate(%s) failed: %v", table, err)
		}
		second, err := s.GetOrCreate(ctx, table, "Done")
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("%s: ids %d and %d differ", table, first, second)
		}
		other, err := s.GetOrCreate(ctx, table, "Open")
		if err != nil {
			t.Fatal(err)
		}
		if other == first {
			t.Errorf("%s: distinct names share id %d", table, other)
		}
		if n := count(t, s, string(table)); n != 2 {
			t.Errorf("%s has %d rows, want 2", table, n)
		}
	}

	if _, err := s.GetOrCreate(ctx, storage.LookupTable("issue"), "x"); err == nil {
		t.Error("expected error for non-lookup table")
	}
}

func TestUpsertVersionOverwrites(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	id1, err := s.UpsertVersion(ctx, &types.Version{ID: "100", Name: "v1", StartDate: "2017-04-03"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.UpsertVersion(ctx, &types.Version{ID: "100", Name: "v1.0", Released: true, ReleaseDate: "2017-05-12"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("upsert changed id from %d to %d", id1, id2)
	}
	if n := count(t, s, "version"); n != 1 {
		t.Fatalf("version has %d rows, want 1", n)
	}

	var name string
	var released bool
	var start sql.NullString
	err = s.UnderlyingDB().QueryRow(`SELECT name, released, start_date FROM version WHERE id = ?`, id1).Scan(&name, &released, &start)
	if err != nil {
		t.Fatal(err)
	}
	if name != "v1.0" || !released || start.Valid {
		t.Errorf("row = (%q, %v, %v), want latest values", name, released, start)
	}
}

func TestUpsertSprint(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	id1, err := s.UpsertSprint(ctx, &types.Sprint{ID: 42, Name: "Sprint 1", State: "active"})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.UpsertSprint(ctx, &types.Sprint{ID: 42, Name: "Sprint 1", State: "closed", CompleteDate: "2001-01-16"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("upsert changed id from %d to %d", id1, id2)
	}
	var state string
	if err := s.UnderlyingDB().QueryRow(`SELECT state FROM sprint WHERE sprint_id = 42`).Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != "closed" {
		t.Errorf("state = %q, want closed", state)
	}
}

func TestStoreIssueUpsertsByKey(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	issue := &types.Issue{Key: "P-1", Summary: "first", Status: "Open", Type: "Bug", ProjectCode: "P", Raw: `{"key":"P-1"}`}
	res, err := s.StoreIssue(ctx, issue)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Created {
		t.Error("first store should create")
	}

	issue.Summary = "second"
	issue.Status = "Done"
	issue.Resolution = "Fixed"
	res2, err := s.StoreIssue(ctx, issue)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Created || res2.IssueID != res.IssueID {
		t.Errorf("second store = %+v, want update of %d", res2, res.IssueID)
	}
	if n := count(t, s, "issue"); n != 1 {
		t.Fatalf("issue has %d rows, want 1", n)
	}

	got, err := s.GetIssue(ctx, "P-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "second" || got.Status != "Done" || got.Resolution != "Fixed" || got.ProjectCode != "P" {
		t.Errorf("GetIssue() = %+v, want latest values", got)
	}
	if got.Raw != `{"key":"P-1"}` {
		t.Errorf("Raw = %q", got.Raw)
	}
	if n := count(t, s, "status"); n != 2 {
		t.Errorf("status has %d rows, want 2", n)
	}

	if missing, err := s.GetIssue(ctx, "P-404"); err != nil || missing != nil {
		t.Errorf("GetIssue(P-404) = %v, %v, want nil, nil", missing, err)
	}
	if _, err := s.StoreIssue(ctx, &types.Issue{}); err == nil {
		t.Error("expected error for empty key")
	}
}

func seedLinks(t *testing.T, s *SQLiteStorage) (sprints []int64) {
	t.Helper()
	ctx := context.Background()
	for _, v := range []types.Version{{ID: "1", Name: "v1"}, {ID: "2", Name: "v2"}} {
		if _, err := s.UpsertVersion(ctx, &v); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range []int64{42, 43} {
		ref, err := s.UpsertSprint(ctx, &types.Sprint{ID: id, Name: fmt.Sprintf("Sprint %d", id)})
		if err != nil {
			t.Fatal(err)
		}
		sprints = append(sprints, ref)
	}
	return sprints
}

func TestStoreIssueReconcilesLinks(t *testing.T) {
	s := newTestStore(t, Options{})
	sprints := seedLinks(t, s)
	ctx := context.Background()

	issue := &types.Issue{Key: "P-1", SprintIDs: sprints, FixVersions: []string{"v1", "v2"}, AffectsVersions: []string{"v1"}}
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	// Storing the same issue again adds nothing.
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	if n := count(t, s, "issue_fix_version"); n != 2 {
		t.Errorf("issue_fix_version has %d rows, want 2", n)
	}

	issue.SprintIDs = sprints[1:]
	issue.FixVersions = []string{"v2"}
	issue.AffectsVersions = []string{}
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIssue(ctx, "P-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sprints[1:], got.SprintIDs); diff != "" {
		t.Errorf("SprintIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"v2"}, got.FixVersions); diff != "" {
		t.Errorf("FixVersions mismatch (-want +got):\n%s", diff)
	}
	if len(got.AffectsVersions) != 0 {
		t.Errorf("AffectsVersions = %v, want none", got.AffectsVersions)
	}
}

func TestStoreIssueAppendsLinks(t *testing.T) {
	s := newTestStore(t, Options{Links: storage.LinkAppend})
	sprints := seedLinks(t, s)
	ctx := context.Background()

	issue := &types.Issue{Key: "P-1", SprintIDs: sprints[:1], FixVersions: []string{"v1"}}
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	issue.SprintIDs = sprints[1:]
	issue.FixVersions = []string{"v2", "v2"}
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIssue(ctx, "P-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sprints, got.SprintIDs); diff != "" {
		t.Errorf("SprintIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"v1", "v2"}, got.FixVersions); diff != "" {
		t.Errorf("FixVersions mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreIssueUnknownSprintListKeepsLinks(t *testing.T) {
	s := newTestStore(t, Options{})
	sprints := seedLinks(t, s)
	ctx := context.Background()

	if _, err := s.StoreIssue(ctx, &types.Issue{Key: "P-1", SprintIDs: sprints}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreIssue(ctx, &types.Issue{Key: "P-1", SprintIDs: nil}); err != nil {
		t.Fatal(err)
	}
	if n := count(t, s, "issue_sprints"); n != 2 {
		t.Errorf("issue_sprints has %d rows, want 2", n)
	}

	if _, err := s.StoreIssue(ctx, &types.Issue{Key: "P-1", SprintIDs: []int64{}}); err != nil {
		t.Fatal(err)
	}
	if n := count(t, s, "issue_sprints"); n != 0 {
		t.Errorf("issue_sprints has %d rows, want 0", n)
	}
}

func TestStoreIssueUnknownVersionListKeepsLinks(t *testing.T) {
	s := newTestStore(t, Options{})
	seedLinks(t, s)
	ctx := context.Background()

	issue := &types.Issue{Key: "P-1", FixVersions: []string{"v1", "v2"}, AffectsVersions: []string{"v1"}}
	if _, err := s.StoreIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreIssue(ctx, &types.Issue{Key: "P-1"}); err != nil {
		t.Fatal(err)
	}
	if n := count(t, s, "issue_fix_version"); n != 2 {
		t.Errorf("issue_fix_version has %d rows, want 2", n)
	}
	if n := count(t, s, "issue_affects_version"); n != 1 {
		t.Errorf("issue_affects_version has %d rows, want 1", n)
	}
}

func TestStoreIssueReportsUnknownVersions(t *testing.T) {
	s := newTestStore(t, Options{})
	seedLinks(t, s)

	res, err := s.StoreIssue(context.Background(), &types.Issue{
		Key: "P-1", FixVersions: []string{"v1", "v9"}, AffectsVersions: []string{"legacy"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"v9", "legacy"}, res.UnknownVersions); diff != "" {
		t.Errorf("UnknownVersions mismatch (-want +got):\n%s", diff)
	}
	if n := count(t, s, "issue_fix_version"); n != 1 {
		t.Errorf("issue_fix_version has %d rows, want 1", n)
	}
}

func TestConcurrentWritersShareLookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jx.db")
	// One handle per worker, as in a real run.
	stores := []*SQLiteStorage{
		openTestStore(t, path, Options{Backoff: time.Millisecond}),
		openTestStore(t, path, Options{Backoff: time.Millisecond}),
		openTestStore(t, path, Options{Backoff: time.Millisecond}),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for w, s := range stores {
		wg.Add(1)
		go func(w int, s *SQLiteStorage) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := s.StoreIssue(context.Background(), &types.Issue{
					Key: fmt.Sprintf("P-%d-%d", w, i), Status: "Done", Type: "Story", ProjectCode: "P",
				})
				if err != nil {
					errs <- err
				}
			}
		}(w, s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("StoreIssue failed: %v", err)
	}

	s := stores[0]
	if n := count(t, s, "issue"); n != 30 {
		t.Errorf("issue has %d rows, want 30", n)
	}
	for _, table := range []string{"status", "type", "project"} {
		if n := count(t, s, table); n != 1 {
			t.Errorf("%s has %d rows, want 1", table, n)
		}
	}
}

func TestWithRetry(t *testing.T) {
	s := &SQLiteStorage{retries: 3, backoff: time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := s.withRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("failed to begin immediate transaction: %w", sqlite3.BUSY)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("busy twice: err = %v, calls = %d, want nil, 3", err, calls)
	}

	calls = 0
	err = s.withRetry(ctx, func() error {
		calls++
		return sqlite3.LOCKED
	})
	if !errors.Is(err, sqlite3.LOCKED) || calls != 4 {
		t.Errorf("always locked: err = %v, calls = %d, want LOCKED after 4", err, calls)
	}

	calls = 0
	boom := errors.New("constraint failed")
	err = s.withRetry(ctx, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("other error: err = %v, calls = %d, want boom after 1", err, calls)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	calls = 0
	err = s.withRetry(canceled, func() error {
		calls++
		return sqlite3.BUSY
	})
	if err == nil || calls != 1 {
		t.Errorf("canceled: err = %v, calls = %d, want error after 1", err, calls)
	}
}

func TestParseLinkMode(t *testing.T) {
	for in, want := range map[string]storage.LinkMode{"": storage.LinkReconcile, "reconcile": storage.LinkReconcile, "append": storage.LinkAppend} {
		got, err := storage.ParseLinkMode(in)
		if err != nil || got != want {
			t.Errorf("ParseLinkMode(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := storage.ParseLinkMode("merge"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
