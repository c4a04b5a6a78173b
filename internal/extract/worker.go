package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jirametrics/jx/internal/flatten"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/sink"
	"github.com/jirametrics/jx/internal/types"
)

// Client is the part of the JIRA adapter the extraction uses.
type Client interface {
	VersionLister
	flatten.SprintFetcher
	Search(ctx context.Context, jql string) ([]json.RawMessage, error)
}

// Connector opens a JIRA connection. Each worker calls it once.
type Connector func(ctx context.Context) (Client, error)

// SinkOpener opens a sink. Each worker calls it once and closes what it gets.
type SinkOpener func() (sink.Sink, error)

// Worker drains a queue with its own JIRA connection and sink.
type Worker struct {
	id       int
	connect  Connector
	openSink SinkOpener
	fields   *mapping.Mapping
	sprints  *flatten.SprintCache
	log      *slog.Logger
}

// env is what a started worker holds for its lifetime.
type env struct {
	client    Client
	sink      sink.Sink
	flattener *flatten.Flattener
}

// start opens the worker's connections.
func (w *Worker) start(ctx context.Context) (*env, error) {
	client, err := w.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.id, err)
	}
	s, err := w.openSink()
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.id, err)
	}
	return &env{
		client:    client,
		sink:      s,
		flattener: flatten.New(w.fields, w.sprints.Resolver(client, s), w.log),
	}, nil
}

// Run processes tasks until the queue is drained or ctx is canceled. It returns
// an error only when the worker could not start; task failures are reported
// through record.
func (w *Worker) Run(ctx context.Context, q *Queue, record func(types.TaskResult)) error {
	e, err := w.start(ctx)
	if err != nil {
		w.log.Error("worker could not start", "error", err)
		return err
	}
	defer func() {
		if err := e.sink.Close(); err != nil {
			w.log.Warn("closing sink", "error", err)
		}
	}()

	w.log.Debug("worker started")
	processed := 0
	for ctx.Err() == nil {
		task, ok := q.TryDequeue()
		if !ok {
			break
		}
		record(w.process(ctx, e, task))
		processed++
	}
	w.log.Debug("worker finished", "tasks", processed)
	return nil
}

// process runs one task to completion. Panics and errors stop at this boundary.
func (w *Worker) process(ctx context.Context, e *env, task types.Task) (res types.TaskResult) {
	log := w.log.With("project", task.Project, "version", task.Version)
	start := time.Now()
	res = types.TaskResult{Task: task, Worker: w.id}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			log.Error("panic in task", "panic", r, "stack", string(debug.Stack()))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	jql := TaskJQL(task)
	log.Debug("searching", "jql", jql)
	raws, err := e.client.Search(ctx, jql)
	if err != nil {
		res.Err = fmt.Errorf("search failed: %w", err)
		log.Error("unable to search issues", "jql", jql, "error", err)
		return res
	}
	res.Fetched = len(raws)

	records := make([]*types.Record, 0, len(raws))
	for _, raw := range raws {
		records = append(records, e.flattener.Flatten(ctx, raw))
	}

	// Writes finish even when the run is being canceled.
	res.Stored, err = e.sink.StoreIssues(context.WithoutCancel(ctx), task, records)
	if err != nil {
		res.Err = err
		log.Error("unable to store all issues", "stored", res.Stored, "fetched", res.Fetched, "error", err)
		return res
	}

	log.Info("version processed", "issues", res.Stored, "duration", time.Since(start).Round(time.Millisecond))
	return res
}
