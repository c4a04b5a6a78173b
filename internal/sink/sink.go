// Package sink persists enumerated versions, resolved sprints and flattened issues,
// either as per-version CSV files or into the relational store.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jirametrics/jx/internal/configfile"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/storage"
	"github.com/jirametrics/jx/internal/storage/sqlite"
	"github.com/jirametrics/jx/internal/types"
)

// Sink is where a worker writes. Implementations are not shared between workers.
type Sink interface {
	// StoreVersion records a version found by the enumerator.
	StoreVersion(ctx context.Context, project string, v *types.Version) error
	// StoreSprint records a sprint and returns the reference written into the
	// sprints column.
	StoreSprint(ctx context.Context, s *types.Sprint) (string, error)
	// StoreIssues writes the flattened issues of one task and returns how many
	// were stored. A failure on one issue does not stop the others.
	StoreIssues(ctx context.Context, task types.Task, records []*types.Record) (int, error)
	Close() error
}

// Options configures Open.
type Options struct {
	Links   storage.LinkMode
	Retries int
	Backoff time.Duration
}

// Open returns the sink selected by the manifest output mode.
func Open(m *configfile.Manifest, fields *mapping.Mapping, opts Options, logger *slog.Logger) (Sink, error) {
	switch mode := m.OutputMode(); mode {
	case configfile.OutputCSV:
		return NewCSV(m.DataPath(), fields.Names(), logger), nil
	case configfile.OutputSQLite:
		store, err := sqlite.New(m.DatabasePath(), sqlite.Options{
			Links:   opts.Links,
			Retries: opts.Retries,
			Backoff: opts.Backoff,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", m.DatabasePath(), err)
		}
		return NewRelational(store, logger), nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
}

// Discard drops everything. Dry runs use it.
type Discard struct{}

func (Discard) StoreVersion(context.Context, string, *types.Version) error { return nil }

func (Discard) StoreSprint(_ context.Context, s *types.Sprint) (string, error) { return s.Name, nil }

func (Discard) StoreIssues(_ context.Context, _ types.Task, records []*types.Record) (int, error) {
	return len(records), nil
}

func (Discard) Close() error { return nil }
