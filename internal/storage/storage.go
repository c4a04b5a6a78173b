// Package storage defines the interface for relational JIRA storage backends.
package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jirametrics/jx/internal/types"
)

// LinkMode controls how an issue's join rows are written.
type LinkMode string

const (
	// LinkReconcile makes the join rows match the issue exactly, deleting stale ones.
	LinkReconcile LinkMode = "reconcile"
	// LinkAppend only ever adds join rows.
	LinkAppend LinkMode = "append"
)

// ParseLinkMode validates a links setting. Empty means reconcile.
func ParseLinkMode(s string) (LinkMode, error) {
	switch LinkMode(s) {
	case "", LinkReconcile:
		return LinkReconcile, nil
	case LinkAppend:
		return LinkAppend, nil
	}
	return "", errors.New("links must be reconcile or append, got " + s)
}

// LookupTable names one of the get-or-create tables.
type LookupTable string

const (
	Project    LookupTable = "project"
	Resolution LookupTable = "resolution"
	Status     LookupTable = "status"
	Type       LookupTable = "type"
)

// LinkTable names one of the issue association tables.
type LinkTable string

const (
	IssueSprints        LinkTable = "issue_sprints"
	IssueFixVersion     LinkTable = "issue_fix_version"
	IssueAffectsVersion LinkTable = "issue_affects_version"
)

// StoreResult describes the outcome of StoreIssue.
type StoreResult struct {
	IssueID int64
	Created bool
	// UnknownVersions lists fix/affects version names with no version row.
	UnknownVersions []string
}

// IssueRow is a stored issue with its surrogate ids.
type IssueRow struct {
	ID           int64
	ProjectID    int64
	ResolutionID int64
	StatusID     int64
	TypeID       int64
	types.Issue
}

// Storage is the relational store behind the sqlite sink.
type Storage interface {
	// Lookups
	GetOrCreate(ctx context.Context, table LookupTable, name string) (int64, error)

	// Natural-key upserts; both return the surrogate row id.
	UpsertVersion(ctx context.Context, v *types.Version) (int64, error)
	UpsertSprint(ctx context.Context, s *types.Sprint) (int64, error)

	// Issues
	StoreIssue(ctx context.Context, issue *types.Issue) (*StoreResult, error)
	GetIssue(ctx context.Context, key string) (*IssueRow, error) // nil, nil when absent
	Links(ctx context.Context, table LinkTable, issueID int64) ([]int64, error)

	// Stats
	Count(ctx context.Context, table string) (int, error)
	SchemaVersion(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
	Path() string

	// UnderlyingDB returns the underlying *sql.DB connection
	// This is provided for read-only inspection tools like jx doctor.
	UnderlyingDB() *sql.DB
}
