package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jirametrics/jx/internal/logging"
	"github.com/jirametrics/jx/internal/mapping"
	"github.com/jirametrics/jx/internal/sink"
	"github.com/jirametrics/jx/internal/types"
)

// fakeClient answers searches from a function of the JQL.
type fakeClient struct {
	search func(jql string) ([]json.RawMessage, error)
}

func (c *fakeClient) ProjectVersions(context.Context, string) ([]types.Version, error) {
	return nil, nil
}

func (c *fakeClient) Sprint(_ context.Context, id int64) (*types.Sprint, error) {
	return &types.Sprint{ID: id, Name: fmt.Sprintf("Sprint %d", id)}, nil
}

func (c *fakeClient) Search(_ context.Context, jql string) ([]json.RawMessage, error) {
	return c.search(jql)
}

// recordingSink collects stored records. One instance may be shared by workers.
type recordingSink struct {
	sink.Discard
	mu     sync.Mutex
	stored map[string]int
	closed atomic.Int32
}

func (s *recordingSink) StoreIssues(_ context.Context, task types.Task, records []*types.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		s.stored = make(map[string]int)
	}
	s.stored[task.Version] += len(records)
	return len(records), nil
}

func (s *recordingSink) Close() error {
	s.closed.Add(1)
	return nil
}

func testMapping(t *testing.T) *mapping.Mapping {
	t.Helper()
	m, err := mapping.Parse([]byte(`{"issue": {"key": "key", "summary": "fields.summary"}}`))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func fillQueue(t *testing.T, n int) *Queue {
	t.Helper()
	q := NewQueue()
	for i := 0; i < n; i++ {
		if err := q.Put(types.Task{Project: "Proj", Codes: []string{"P"}, Version: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	q.Seal()
	return q
}

func oneIssue(string) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"key":"P-1","fields":{"summary":"s"}}`)}, nil
}

func TestPoolProcessesEveryTaskOnce(t *testing.T) {
	const n = 50
	q := fillQueue(t, n)
	s := &recordingSink{}
	pool := &Pool{
		Size:     4,
		Connect:  func(context.Context) (Client, error) { return &fakeClient{search: oneIssue}, nil },
		OpenSink: func() (sink.Sink, error) { return s, nil },
		Fields:   testMapping(t),
		Log:      logging.Discard(),
	}

	res, err := pool.Run(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if res.Started != 4 {
		t.Errorf("Started = %d, want 4", res.Started)
	}
	if len(res.Results) != n {
		t.Fatalf("got %d results, want %d", len(res.Results), n)
	}
	seen := make(map[string]bool)
	for _, r := range res.Results {
		if seen[r.Task.Version] {
			t.Errorf("task %s processed twice", r.Task.Version)
		}
		seen[r.Task.Version] = true
		if r.Failed() || r.Fetched != 1 || r.Stored != 1 {
			t.Errorf("result %+v, want one issue stored", r)
		}
	}
	if len(s.stored) != n {
		t.Errorf("sink saw %d versions, want %d", len(s.stored), n)
	}
	if got := s.closed.Load(); got != 4 {
		t.Errorf("sink closed %d times, want once per worker", got)
	}
}

func TestPoolContinuesAfterFailures(t *testing.T) {
	q := fillQueue(t, 10)
	client := &fakeClient{search: func(jql string) ([]json.RawMessage, error) {
		switch {
		case strings.Contains(jql, `"v3"`):
			return nil, errors.New("jira: 500")
		case strings.Contains(jql, `"v5"`):
			panic("malformed page")
		}
		return oneIssue(jql)
	}}
	pool := &Pool{
		Size:     2,
		Connect:  func(context.Context) (Client, error) { return client, nil },
		OpenSink: func() (sink.Sink, error) { return &recordingSink{}, nil },
		Fields:   testMapping(t),
		Log:      logging.Discard(),
	}

	res, err := pool.Run(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 10 {
		t.Fatalf("got %d results, want 10", len(res.Results))
	}

	failed := make(map[string]string)
	for _, r := range res.Results {
		if r.Failed() {
			failed[r.Task.Version] = r.Error
		}
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %v, want v3 and v5", failed)
	}
	if !strings.Contains(failed["v3"], "search failed") {
		t.Errorf("v3 error = %q", failed["v3"])
	}
	if !strings.Contains(failed["v5"], "panic: malformed page") {
		t.Errorf("v5 error = %q", failed["v5"])
	}
}

func TestPoolSurvivesWorkersThatCannotConnect(t *testing.T) {
	q := fillQueue(t, 20)
	var attempts atomic.Int32
	pool := &Pool{
		Size: 4,
		Connect: func(context.Context) (Client, error) {
			if attempts.Add(1) <= 3 {
				return nil, errors.New("connection refused")
			}
			return &fakeClient{search: oneIssue}, nil
		},
		OpenSink: func() (sink.Sink, error) { return &recordingSink{}, nil },
		Fields:   testMapping(t),
		Log:      logging.Discard(),
	}

	res, err := pool.Run(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if res.Started != 1 || len(res.StartErrors) != 3 {
		t.Errorf("Started = %d, StartErrors = %d, want 1 and 3", res.Started, len(res.StartErrors))
	}
	if len(res.Results) != 20 || q.Remaining() != 0 {
		t.Errorf("results = %d, remaining = %d, want 20 and 0", len(res.Results), q.Remaining())
	}
}

func TestPoolWithoutWorkers(t *testing.T) {
	q := fillQueue(t, 5)
	pool := &Pool{
		Size:     3,
		Connect:  func(context.Context) (Client, error) { return &fakeClient{search: oneIssue}, nil },
		OpenSink: func() (sink.Sink, error) { return nil, errors.New("database is locked") },
		Fields:   testMapping(t),
		Log:      logging.Discard(),
	}

	res, err := pool.Run(context.Background(), q)
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("Run() error = %v, want ErrNoWorkers", err)
	}
	if len(res.Results) != 0 || q.Remaining() != 5 {
		t.Errorf("results = %d, remaining = %d, want 0 and 5", len(res.Results), q.Remaining())
	}
}

func TestPoolStopsOnCancel(t *testing.T) {
	q := fillQueue(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	var searches atomic.Int32
	client := &fakeClient{search: func(jql string) ([]json.RawMessage, error) {
		if searches.Add(1) == 2 {
			cancel()
		}
		return oneIssue(jql)
	}}
	pool := &Pool{
		Size:     1,
		Connect:  func(context.Context) (Client, error) { return client, nil },
		OpenSink: func() (sink.Sink, error) { return &recordingSink{}, nil },
		Fields:   testMapping(t),
		Log:      logging.Discard(),
	}

	res, err := pool.Run(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	// The task in flight when the run is canceled still completes.
	if len(res.Results) != 2 || q.Remaining() != 8 {
		t.Errorf("results = %d, remaining = %d, want 2 and 8", len(res.Results), q.Remaining())
	}
	for _, r := range res.Results {
		if r.Failed() {
			t.Errorf("task %s failed: %s", r.Task.Version, r.Error)
		}
	}
}
