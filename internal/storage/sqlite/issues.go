package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/types"
)

// issueColumns is the column order used by insert and update.
var issueColumns = []string{
	"key", "summary", "epic_name", "labels", "creation_date", "resolution_date",
	"updated_date", "start_date", "due_date", "priority", "assignee", "reporter",
	"components", "epic_link", "story_points", "tshirt_size", "linked_theme",
	"resolution_id", "status_id", "type_id", "project_id", "raw_value",
}

type lookupIDs struct {
	project, resolution, status, issueType int64
}

func issueValues(issue *types.Issue, ids lookupIDs) []any {
	return []any{
		issue.Key, issue.Summary, issue.EpicName, issue.Labels,
		nullIfEmpty(issue.CreationDate), nullIfEmpty(issue.ResolutionDate),
		nullIfEmpty(issue.UpdatedDate), nullIfEmpty(issue.StartDate), nullIfEmpty(issue.DueDate),
		issue.Priority, issue.Assignee, issue.Reporter, issue.Components,
		issue.EpicLink, issue.StoryPoints, issue.TShirtSize, issue.LinkedTheme,
		ids.resolution, ids.status, ids.issueType, ids.project, issue.Raw,
	}
}

// StoreIssue upserts an issue by key together with its lookups and associations
// in a single write transaction.
func (s *SQLiteStorage) StoreIssue(ctx context.Context, issue *types.Issue) (*storage.StoreResult, error) {
	if issue.Key == "" {
		return nil, fmt.Errorf("validation failed: issue key is empty")
	}

	var result *storage.StoreResult
	err := s.runInTransaction(ctx, func(conn *sql.Conn) error {
		var err error
		result, err = s.storeIssue(ctx, conn, issue)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store issue %s: %w", issue.Key, err)
	}
	return result, nil
}

func (s *SQLiteStorage) storeIssue(ctx context.Context, conn *sql.Conn, issue *types.Issue) (*storage.StoreResult, error) {
	var ids lookupIDs
	var err error
	if ids.project, err = getOrCreate(ctx, conn, storage.Project, issue.ProjectCode); err != nil {
		return nil, err
	}
	if ids.resolution, err = getOrCreate(ctx, conn, storage.Resolution, issue.Resolution); err != nil {
		return nil, err
	}
	if ids.status, err = getOrCreate(ctx, conn, storage.Status, issue.Status); err != nil {
		return nil, err
	}
	if ids.issueType, err = getOrCreate(ctx, conn, storage.Type, issue.Type); err != nil {
		return nil, err
	}

	result := &storage.StoreResult{}
	values := issueValues(issue, ids)
	err = conn.QueryRowContext(ctx, `SELECT id FROM issue WHERE key = ?`, issue.Key).Scan(&result.IssueID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(issueColumns)), ", ")
		res, err := conn.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO issue (%s) VALUES (%s)`, strings.Join(issueColumns, ", "), placeholders),
			values...)
		if err != nil {
			return nil, fmt.Errorf("failed to insert issue: %w", err)
		}
		if result.IssueID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		result.Created = true
	case err != nil:
		return nil, fmt.Errorf("failed to look up issue: %w", err)
	default:
		setClauses := make([]string, len(issueColumns))
		for i, col := range issueColumns {
			setClauses[i] = col + " = ?"
		}
		args := append(values, result.IssueID)
		if _, err := conn.ExecContext(ctx,
			fmt.Sprintf(`UPDATE issue SET %s WHERE id = ?`, strings.Join(setClauses, ", ")),
			args...); err != nil {
			return nil, fmt.Errorf("failed to update issue: %w", err)
		}
	}

	// A nil list is unknown; leave the existing rows alone.
	if issue.SprintIDs != nil {
		if err := s.writeLinks(ctx, conn, storage.IssueSprints, result.IssueID, issue.SprintIDs); err != nil {
			return nil, err
		}
	}

	for _, link := range []struct {
		table storage.LinkTable
		names []string
	}{
		{storage.IssueFixVersion, issue.FixVersions},
		{storage.IssueAffectsVersion, issue.AffectsVersions},
	} {
		if link.names == nil {
			continue
		}
		versionIDs, unknown, err := resolveVersions(ctx, conn, link.names)
		if err != nil {
			return nil, err
		}
		result.UnknownVersions = append(result.UnknownVersions, unknown...)
		if err := s.writeLinks(ctx, conn, link.table, result.IssueID, versionIDs); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// resolveVersions maps version names to version row ids. Names shared by several
// projects resolve to the oldest row.
func resolveVersions(ctx context.Context, conn dbConn, names []string) ([]int64, []string, error) {
	var ids []int64
	var unknown []string
	for _, name := range names {
		var id int64
		err := conn.QueryRowContext(ctx, `SELECT id FROM version WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			unknown = append(unknown, name)
		case err != nil:
			return nil, nil, fmt.Errorf("failed to resolve version %q: %w", name, err)
		default:
			ids = append(ids, id)
		}
	}
	return ids, unknown, nil
}

func linkColumn(table storage.LinkTable) (string, error) {
	switch table {
	case storage.IssueSprints:
		return "sprint_id", nil
	case storage.IssueFixVersion, storage.IssueAffectsVersion:
		return "version_id", nil
	}
	return "", fmt.Errorf("unknown association table %q", table)
}

// writeLinks adds the missing association rows and, in reconcile mode, removes
// the ones no longer referenced.
func (s *SQLiteStorage) writeLinks(ctx context.Context, conn dbConn, table storage.LinkTable, issueID int64, refs []int64) error {
	col, err := linkColumn(table)
	if err != nil {
		return err
	}

	refs = uniqueIDs(refs)
	insert := fmt.Sprintf(`
		INSERT INTO %[1]s (issue_id, %[2]s)
		SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE issue_id = ? AND %[2]s = ?)
	`, table, col)
	for _, ref := range refs {
		if _, err := conn.ExecContext(ctx, insert, issueID, ref, issueID, ref); err != nil {
			return fmt.Errorf("failed to link issue %d in %s: %w", issueID, table, err)
		}
	}

	if s.links != storage.LinkReconcile {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE issue_id = ?`, table)
	args := []any{issueID}
	if len(refs) > 0 {
		query += fmt.Sprintf(` AND %s NOT IN (%s)`, col, strings.TrimSuffix(strings.Repeat("?, ", len(refs)), ", "))
		for _, ref := range refs {
			args = append(args, ref)
		}
	}
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reconcile %s for issue %d: %w", table, issueID, err)
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// GetIssue retrieves an issue by key with its lookup names and associations.
// It returns nil, nil when the key is not stored.
func (s *SQLiteStorage) GetIssue(ctx context.Context, key string) (*storage.IssueRow, error) {
	var row storage.IssueRow
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.key,
		       COALESCE(i.summary, ''), COALESCE(i.epic_name, ''), COALESCE(i.labels, ''),
		       COALESCE(i.creation_date, ''), COALESCE(i.resolution_date, ''), COALESCE(i.updated_date, ''),
		       COALESCE(i.start_date, ''), COALESCE(i.due_date, ''), COALESCE(i.priority, ''),
		       COALESCE(i.assignee, ''), COALESCE(i.reporter, ''), COALESCE(i.components, ''),
		       COALESCE(i.epic_link, ''), COALESCE(i.story_points, ''), COALESCE(i.tshirt_size, ''),
		       COALESCE(i.linked_theme, ''), COALESCE(i.raw_value, ''),
		       COALESCE(i.project_id, 0), COALESCE(p.project_id, ''),
		       COALESCE(i.resolution_id, 0), COALESCE(r.name, ''),
		       COALESCE(i.status_id, 0), COALESCE(st.name, ''),
		       COALESCE(i.type_id, 0), COALESCE(t.name, '')
		FROM issue i
		LEFT JOIN project p ON p.id = i.project_id
		LEFT JOIN resolution r ON r.id = i.resolution_id
		LEFT JOIN status st ON st.id = i.status_id
		LEFT JOIN type t ON t.id = i.type_id
		WHERE i.key = ?
	`, key).Scan(
		&row.ID, &row.Key,
		&row.Summary, &row.EpicName, &row.Labels,
		&row.CreationDate, &row.ResolutionDate, &row.UpdatedDate,
		&row.StartDate, &row.DueDate, &row.Priority,
		&row.Assignee, &row.Reporter, &row.Components,
		&row.EpicLink, &row.StoryPoints, &row.TShirtSize,
		&row.LinkedTheme, &row.Raw,
		&row.ProjectID, &row.ProjectCode,
		&row.ResolutionID, &row.Resolution,
		&row.StatusID, &row.Status,
		&row.TypeID, &row.Type,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	if row.SprintIDs, err = s.Links(ctx, storage.IssueSprints, row.ID); err != nil {
		return nil, err
	}
	if row.FixVersions, err = s.linkedVersionNames(ctx, storage.IssueFixVersion, row.ID); err != nil {
		return nil, err
	}
	if row.AffectsVersions, err = s.linkedVersionNames(ctx, storage.IssueAffectsVersion, row.ID); err != nil {
		return nil, err
	}
	return &row, nil
}

// Links returns the referenced row ids of one association table for an issue.
func (s *SQLiteStorage) Links(ctx context.Context, table storage.LinkTable, issueID int64) ([]int64, error) {
	col, err := linkColumn(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE issue_id = ? ORDER BY id`, col, table), issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) linkedVersionNames(ctx context.Context, table storage.LinkTable, issueID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(v.name, '') FROM %s l JOIN version v ON v.id = l.version_id
		WHERE l.issue_id = ? ORDER BY l.id
	`, table), issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
