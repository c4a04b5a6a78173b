package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jirametrics/jx/internal/flatten"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/types"
)

// ErrNoWorkers is returned when no worker could start.
var ErrNoWorkers = errors.New("no worker could start")

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 4

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	Size     int
	Connect  Connector
	OpenSink SinkOpener
	Fields   *mapping.Mapping
	Sprints  *flatten.SprintCache
	Log      *slog.Logger
}

// PoolResult is what a pool run produced.
type PoolResult struct {
	Results []types.TaskResult
	Started int
	// StartErrors holds one error per worker that could not start.
	StartErrors []error
}

// Run starts the workers and waits for all of them. Workers that cannot start
// leave their share of the queue to the others.
func (p *Pool) Run(ctx context.Context, q *Queue) (*PoolResult, error) {
	size := p.Size
	if size <= 0 {
		size = DefaultWorkers
	}
	sprints := p.Sprints
	if sprints == nil {
		sprints = flatten.NewSprintCache()
	}

	var mu sync.Mutex
	out := &PoolResult{}
	record := func(r types.TaskResult) {
		mu.Lock()
		out.Results = append(out.Results, r)
		mu.Unlock()
	}

	// A worker that cannot start must not cancel the others, so no WithContext.
	var g errgroup.Group
	for i := 1; i <= size; i++ {
		w := &Worker{
			id:       i,
			connect:  p.Connect,
			openSink: p.OpenSink,
			fields:   p.Fields,
			sprints:  sprints,
			log:      p.Log.With("worker", i),
		}
		g.Go(func() error {
			if err := w.Run(ctx, q, record); err != nil {
				mu.Lock()
				out.StartErrors = append(out.StartErrors, err)
				mu.Unlock()
				return err
			}
			mu.Lock()
			out.Started++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if out.Started == 0 {
		return out, fmt.Errorf("%w: %w", ErrNoWorkers, errors.Join(out.StartErrors...))
	}
	return out, nil
}
