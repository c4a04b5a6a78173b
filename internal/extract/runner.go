// Package extract enumerates the versions of the manifest projects, queues one
// task per version and drains the queue with a pool of workers that search JIRA,
// flatten the issues and hand them to a sink.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/flatten"
	"github.com/jirametrics/jx/internal/jira"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/sink"
)

// Config is everything a run needs.
type Config struct {
	Manifest *configfile.Manifest
	Mapping  *mapping.Mapping
	Access   *configfile.Access
	Workers  int
	Jira     jira.Options
	Sink     sink.Options
	// Projects restricts the run to these manifest projects. Empty means all.
	Projects []string
}

// Runner coordinates one extraction.
type Runner struct {
	cfg      Config
	connect  Connector
	openSink SinkOpener
	log      *slog.Logger
}

// NewRunner returns a Runner talking to the JIRA server in cfg.Access and writing
// to the sink selected by the manifest.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	r := &Runner{cfg: cfg, log: logger}
	r.connect = func(ctx context.Context) (Client, error) {
		c, err := jira.Connect(ctx, cfg.Access.ServerURL, cfg.Access.Username, cfg.Access.Password, cfg.Jira)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	r.openSink = func() (sink.Sink, error) {
		return sink.Open(cfg.Manifest, cfg.Mapping, cfg.Sink, logger)
	}
	return r
}

// Projects returns the manifest projects selected for the run.
func (r *Runner) Projects() ([]configfile.Project, error) {
	if len(r.cfg.Projects) == 0 {
		return r.cfg.Manifest.Projects(), nil
	}
	var out []configfile.Project
	for _, name := range r.cfg.Projects {
		p, ok := r.cfg.Manifest.Project(name)
		if !ok {
			return nil, fmt.Errorf("project %q is not in the manifest", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Run enumerates, queues and extracts. The returned report is never nil once
// enumeration has started; the error is set when the run could not complete.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Output:  r.cfg.Manifest.OutputMode(),
		Workers: r.cfg.Workers,
	}
	if report.Workers <= 0 {
		report.Workers = DefaultWorkers
	}
	log := r.log.With("run", report.RunID)
	defer func() { report.Duration = time.Since(report.Started) }()

	projects, err := r.Projects()
	if err != nil {
		return nil, err
	}

	q, err := r.enqueue(ctx, log, projects, report)
	if err != nil {
		return report, err
	}
	report.Enqueued = q.Len()
	log.Info("queue sealed", "tasks", report.Enqueued, "workers", report.Workers)

	sprints := flatten.NewSprintCache()
	pool := &Pool{
		Size:     report.Workers,
		Connect:  r.connect,
		OpenSink: r.openSink,
		Fields:   r.cfg.Mapping,
		Sprints:  sprints,
		Log:      log,
	}
	res, err := pool.Run(ctx, q)
	report.WorkersStarted = res.Started
	for _, e := range res.StartErrors {
		report.Errors = append(report.Errors, e.Error())
	}
	report.addResults(res.Results)
	report.SprintsFetched = sprints.Fetches()

	log.Info("run finished",
		"processed", report.Processed, "failed", report.Failed, "unprocessed", report.Unprocessed,
		"issues", report.Stored, "sprints", report.SprintsFetched)
	if err != nil {
		return report, err
	}
	if ctx.Err() != nil && report.Unprocessed > 0 {
		return report, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return report, nil
}

// enqueue fills and seals the queue using one JIRA connection and one sink.
func (r *Runner) enqueue(ctx context.Context, log *slog.Logger, projects []configfile.Project, report *Report) (*Queue, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for enumeration: %w", err)
	}
	store, err := r.openSink()
	if err != nil {
		return nil, err
	}
	// Close before the workers open their own handles.
	defer func() { _ = store.Close() }()

	enum := NewEnumerator(client, store, log)
	q := NewQueue()
	var failed []error
	for _, p := range projects {
		versions, err := enum.Versions(ctx, p)
		if err != nil {
			log.Error("unable to enumerate versions", "project", p.Name, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.Name, err))
			failed = append(failed, err)
			continue
		}
		if err := q.Put(Tasks(p, versions)...); err != nil {
			return nil, err
		}
	}
	q.Seal()

	if len(projects) > 0 && len(failed) == len(projects) {
		return nil, fmt.Errorf("no project could be enumerated: %w", errors.Join(failed...))
	}
	return q, nil
}

// ProjectVersions is a dry-run enumeration result.
type ProjectVersions struct {
	Project  string   `json:"project"`
	Pattern  string   `json:"pattern"`
	Versions []string `json:"versions"`
	JQL      []string `json:"jql"`
	Error    string   `json:"error,omitempty"`
}

// ListVersions enumerates without storing anything.
func (r *Runner) ListVersions(ctx context.Context) ([]ProjectVersions, error) {
	projects, err := r.Projects()
	if err != nil {
		return nil, err
	}
	client, err := r.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	enum := NewEnumerator(client, nil, r.log)
	out := make([]ProjectVersions, 0, len(projects))
	for _, p := range projects {
		pv := ProjectVersions{Project: p.Name, Pattern: p.RegexVersion}
		versions, err := enum.Versions(ctx, p)
		if err != nil {
			pv.Error = err.Error()
		}
		pv.Versions = versions
		for _, t := range Tasks(p, versions) {
			pv.JQL = append(pv.JQL, TaskJQL(t))
		}
		out = append(out, pv)
	}
	return out, nil
}
