package flatten

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jirametrics/jx/internal/types"
)

// SprintFetcher loads sprint details from JIRA.
type SprintFetcher interface {
	Sprint(ctx context.Context, id int64) (*types.Sprint, error)
}

// SprintStore persists a sprint and returns the reference written into issue records.
type SprintStore interface {
	StoreSprint(ctx context.Context, s *types.Sprint) (string, error)
}

// SprintCache remembers resolved sprints for the duration of a run so each sprint is
// fetched and stored once, however many issues or workers reference it. Failed
// resolutions are not cached.
type SprintCache struct {
	mu      sync.RWMutex
	refs    map[int64]string
	group   singleflight.Group
	fetches atomic.Int64
}

// NewSprintCache returns an empty cache.
func NewSprintCache() *SprintCache {
	return &SprintCache{refs: make(map[int64]string)}
}

// Fetches returns how many sprints were fetched from JIRA.
func (c *SprintCache) Fetches() int64 {
	return c.fetches.Load()
}

// Len returns the number of cached sprints.
func (c *SprintCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}

func (c *SprintCache) lookup(id int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.refs[id]
	return ref, ok
}

// Resolve returns the cached reference for id, fetching and storing the sprint on a miss.
// Concurrent misses for the same id share one fetch.
func (c *SprintCache) Resolve(ctx context.Context, id int64, fetch SprintFetcher, store SprintStore) (string, error) {
	if ref, ok := c.lookup(id); ok {
		return ref, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if ref, ok := c.lookup(id); ok {
			return ref, nil
		}
		c.fetches.Add(1)
		sprint, err := fetch.Sprint(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to fetch sprint %d: %w", id, err)
		}
		ref, err := store.StoreSprint(ctx, sprint)
		if err != nil {
			return "", fmt.Errorf("failed to store sprint %d: %w", id, err)
		}
		c.mu.Lock()
		c.refs[id] = ref
		c.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Resolver binds the cache to one worker's fetcher and store.
func (c *SprintCache) Resolver(fetch SprintFetcher, store SprintStore) SprintResolver {
	return &boundResolver{cache: c, fetch: fetch, store: store}
}

type boundResolver struct {
	cache *SprintCache
	fetch SprintFetcher
	store SprintStore
}

func (r *boundResolver) ResolveSprint(ctx context.Context, id int64) (string, error) {
	return r.cache.Resolve(ctx, id, r.fetch, r.store)
}
