package feedcache

import (
	"context"
	"sync"

	"github.com/bluele/gcache"

	"github.com/transitwatch/internal/common/logger"
)

// Group is a bounded set of feeds of the same kind addressed by key, such
// as traffic lights per area or trip searches per request. The least
// recently used feed is dropped once Size keys are held.
type Group[T any] struct {
	cfg    Config
	logger logger.Logger

	mu    sync.Mutex
	feeds gcache.Cache
}

// NewGroup creates a group whose feeds share cfg. Feed names are
// cfg.Name plus the key.
func NewGroup[T any](cfg Config, size int, log logger.Logger) *Group[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Group[T]{
		cfg:    cfg,
		logger: log,
		feeds:  gcache.New(size).LRU().Build(),
	}
}

// Feed returns the feed for key, creating it with fetch when absent. The
// fetcher of an existing feed is kept.
func (g *Group[T]) Feed(key string, fetch Fetcher[T]) *Feed[T] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if v, err := g.feeds.Get(key); err == nil {
		return v.(*Feed[T])
	}

	cfg := g.cfg
	cfg.Name = g.cfg.Name + ":" + key
	f := New(cfg, fetch, g.logger)
	if err := g.feeds.Set(key, f); err != nil {
		g.logger.Warn("Failed to register feed", "feed", cfg.Name, "error", err)
	}
	return f
}

// GetOrRefresh is Feed(key, fetch).GetOrRefresh(ctx).
func (g *Group[T]) GetOrRefresh(ctx context.Context, key string, fetch Fetcher[T]) (T, bool) {
	return g.Feed(key, fetch).GetOrRefresh(ctx)
}

// Lookup returns the feed for key without creating it.
func (g *Group[T]) Lookup(key string) (*Feed[T], bool) {
	v, err := g.feeds.GetIFPresent(key)
	if err != nil {
		return nil, false
	}
	return v.(*Feed[T]), true
}

// Len returns the number of feeds currently held.
func (g *Group[T]) Len() int {
	return g.feeds.Len(false)
}
