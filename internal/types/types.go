// Package types defines the records that flow between the JIRA adapter, the flattener,
// the work queue and the persistence sinks.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Unversioned is the pseudo-version enqueued for issues that have no fix version.
const Unversioned = "unversioned"

// Version is a JIRA project version (release).
type Version struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Archived        bool   `json:"archived"`
	Released        bool   `json:"released"`
	StartDate       string `json:"startDate,omitempty"`
	ReleaseDate     string `json:"releaseDate,omitempty"`
	UserStartDate   string `json:"userStartDate,omitempty"`
	UserReleaseDate string `json:"userReleaseDate,omitempty"`
	ProjectID       int64  `json:"projectId,omitempty"`
}

// Sprint is the detail record of a JIRA agile sprint.
type Sprint struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Sequence     int64  `json:"sequence,omitempty"`
	State        string `json:"state"`
	Goal         string `json:"goal,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	CompleteDate string `json:"completeDate,omitempty"`
}

// Issue is the normalized issue row written to the relational store.
type Issue struct {
	Key            string
	Summary        string
	EpicName       string
	Labels         string
	CreationDate   string
	ResolutionDate string
	UpdatedDate    string
	StartDate      string
	DueDate        string
	Priority       string
	Assignee       string
	Reporter       string
	Components     string
	EpicLink       string
	StoryPoints    string
	TShirtSize     string
	LinkedTheme    string

	// Lookup values, resolved to surrogate ids on write
	ProjectCode string
	Resolution  string
	Status      string
	Type        string

	// Associations. A nil list means it is unknown and the existing rows of its
	// association table are left alone.
	SprintIDs       []int64  // sprint table ids
	FixVersions     []string // version names
	AffectsVersions []string // version names

	Raw string
}

// Field is a flattened value tagged with how it was obtained. Defaulted fields always
// carry an empty Value; Reason says why the real value could not be read. Partial
// marks a value that is not fully known: some lookups failed or the payload had a
// shape the path cannot read. A Defaulted field that is not Partial is absent
// (missing or null) and so known to be empty.
type Field struct {
	Value     string `json:"value"`
	Defaulted bool   `json:"defaulted,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Ok returns a resolved field.
func Ok(value string) Field {
	return Field{Value: value}
}

// Defaulted returns an empty field carrying the reason it fell back.
func Defaulted(reason string) Field {
	return Field{Defaulted: true, Reason: reason}
}

// Unreadable returns an empty field for a value that is present but could not be read.
func Unreadable(reason string) Field {
	return Field{Defaulted: true, Partial: true, Reason: reason}
}

// Incomplete returns a list value that lacks the entries whose lookups failed.
func Incomplete(value, reason string) Field {
	return Field{Value: value, Defaulted: value == "", Partial: true, Reason: reason}
}

// Record is one issue payload flattened through the field mapping.
type Record struct {
	Key     string
	Columns []string
	Fields  map[string]Field
	Raw     json.RawMessage
}

// Get returns the value of a column, or "" when the column is not mapped.
func (r *Record) Get(column string) string {
	if r == nil {
		return ""
	}
	return r.Fields[column].Value
}

// List splits a comma-joined column into its non-empty parts.
func (r *Record) List(column string) []string {
	v := r.Get(column)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// KnownList is List for association columns. It returns nil when the column is not
// mapped or its value is only partly known; an absent value is a known empty list.
func (r *Record) KnownList(column string) []string {
	if r == nil {
		return nil
	}
	field, mapped := r.Fields[column]
	if !mapped || field.Partial {
		return nil
	}
	if list := r.List(column); list != nil {
		return list
	}
	return []string{}
}

// Values returns the column values in column order.
func (r *Record) Values() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = r.Fields[c].Value
	}
	return out
}

// Task is one unit of work: every issue of one version of one manifest project.
type Task struct {
	Project string   `json:"project"`
	Codes   []string `json:"project_codes"`
	Filters []string `json:"special_filters,omitempty"`
	Version string   `json:"version"`
}

// IsUnversioned reports whether the task targets issues without a fix version.
func (t Task) IsUnversioned() bool {
	return t.Version == Unversioned
}

// TaskResult is what a worker reports back for one task.
type TaskResult struct {
	Task     Task          `json:"task"`
	Worker   int           `json:"worker"`
	Fetched  int           `json:"fetched"`
	Stored   int           `json:"stored"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the task did not complete cleanly.
func (r TaskResult) Failed() bool {
	return r.Err != nil
}
