package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/types"
)

// Mapping columns read by the relational sink. Other mapped columns are ignored.
const (
	ColKey            = "key"
	ColSummary        = "summary"
	ColEpicName       = "epic_name"
	ColLabels         = "labels"
	ColCreated        = "created_date"
	ColResolved       = "resolution_date"
	ColUpdated        = "updated_date"
	ColStart          = "start_date"
	ColDue            = "due_date"
	ColPriority       = "priority"
	ColAssignee       = "assignee"
	ColReporter       = "reporter"
	ColComponents     = "components"
	ColEpicLink       = "epic_links"
	ColStoryPoints    = "story_points"
	ColTShirtSize     = "tshirt_size"
	ColLinkedTheme    = "linked_theme"
	ColProjectCode    = "project_code"
	ColResolution     = "resolution"
	ColStatus         = "status"
	ColType           = "type"
	ColSprints        = mapping.SprintColumn
	ColFixVersion     = "fix_version"
	ColAffectsVersion = "affects_version"
)

// RelationalColumns lists every column the relational sink understands.
var RelationalColumns = []string{
	ColKey, ColSummary, ColEpicName, ColLabels, ColCreated, ColResolved, ColUpdated,
	ColStart, ColDue, ColPriority, ColAssignee, ColReporter, ColComponents, ColEpicLink,
	ColStoryPoints, ColTShirtSize, ColLinkedTheme, ColProjectCode, ColResolution,
	ColStatus, ColType, ColSprints, ColFixVersion, ColAffectsVersion,
}

// Relational writes into a storage.Storage.
type Relational struct {
	store storage.Storage
	log   *slog.Logger
}

// NewRelational wraps store. The sink owns it and closes it on Close.
func NewRelational(store storage.Storage, logger *slog.Logger) *Relational {
	return &Relational{store: store, log: logger}
}

// Store returns the underlying storage.
func (r *Relational) Store() storage.Storage {
	return r.store
}

func (r *Relational) StoreVersion(ctx context.Context, _ string, v *types.Version) error {
	_, err := r.store.UpsertVersion(ctx, v)
	return err
}

// StoreSprint upserts the sprint; the reference is its sprint table id.
func (r *Relational) StoreSprint(ctx context.Context, s *types.Sprint) (string, error) {
	id, err := r.store.UpsertSprint(ctx, s)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *Relational) StoreIssues(ctx context.Context, task types.Task, records []*types.Record) (int, error) {
	var errs []error
	stored := 0
	for _, rec := range records {
		issue := IssueFromRecord(rec, task)
		res, err := r.store.StoreIssue(ctx, issue)
		if err != nil {
			r.log.Error("unable to store issue", "key", issue.Key, "error", err)
			errs = append(errs, err)
			continue
		}
		stored++
		if len(res.UnknownVersions) > 0 {
			r.log.Warn("skipped unknown versions", "key", issue.Key, "versions", res.UnknownVersions)
		}
	}
	if len(errs) > 0 {
		return stored, fmt.Errorf("%d of %d issues not stored: %w", len(errs), len(records), errors.Join(errs...))
	}
	return stored, nil
}

func (r *Relational) Close() error {
	return r.store.Close()
}

// IssueFromRecord maps a flattened record onto the relational issue row.
func IssueFromRecord(rec *types.Record, task types.Task) *types.Issue {
	issue := &types.Issue{
		Key:             rec.Get(ColKey),
		Summary:         rec.Get(ColSummary),
		EpicName:        rec.Get(ColEpicName),
		Labels:          rec.Get(ColLabels),
		CreationDate:    rec.Get(ColCreated),
		ResolutionDate:  rec.Get(ColResolved),
		UpdatedDate:     rec.Get(ColUpdated),
		StartDate:       rec.Get(ColStart),
		DueDate:         rec.Get(ColDue),
		Priority:        rec.Get(ColPriority),
		Assignee:        rec.Get(ColAssignee),
		Reporter:        rec.Get(ColReporter),
		Components:      rec.Get(ColComponents),
		EpicLink:        rec.Get(ColEpicLink),
		StoryPoints:     rec.Get(ColStoryPoints),
		TShirtSize:      rec.Get(ColTShirtSize),
		LinkedTheme:     rec.Get(ColLinkedTheme),
		ProjectCode:     rec.Get(ColProjectCode),
		Resolution:      rec.Get(ColResolution),
		Status:          rec.Get(ColStatus),
		Type:            rec.Get(ColType),
		FixVersions:     rec.KnownList(ColFixVersion),
		AffectsVersions: rec.KnownList(ColAffectsVersion),
		SprintIDs:       sprintRefs(rec),
		Raw:             string(rec.Raw),
	}
	if issue.Key == "" {
		issue.Key = rec.Key
	}
	if issue.ProjectCode == "" && len(task.Codes) == 1 {
		issue.ProjectCode = task.Codes[0]
	}
	return issue
}

// sprintRefs returns nil when the sprint list is not fully known.
func sprintRefs(rec *types.Record) []int64 {
	refs := rec.KnownList(ColSprints)
	if refs == nil {
		return nil
	}
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}
