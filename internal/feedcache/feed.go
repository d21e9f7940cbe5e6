package feedcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/transitwatch/internal/common/logger"
)

// Fetcher loads the current records of one upstream feed.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Config describes one cached feed.
type Config struct {
	Name string
	// TTL is how long a refresh result is served before the next attempt.
	TTL time.Duration
	// FailureTTL, when positive, replaces TTL after a failed attempt so a
	// broken feed is retried sooner than a healthy one is refreshed.
	FailureTTL time.Duration
	// Timeout bounds every upstream call. Zero means no extra bound.
	Timeout time.Duration
}

// Snapshot is the state of a feed at one instant.
type Snapshot[T any] struct {
	Value     T
	Available bool
	// FetchedAt is the time of the last successful refresh.
	FetchedAt time.Time
	// CheckedAt is the time of the last refresh attempt.
	CheckedAt time.Time
	TTL       time.Duration
	// Err is the error of the last attempt, nil after a success.
	Err error
}

// Feed memoises the latest result of a Fetcher. At most one fetch per feed
// is in flight at any time; concurrent callers share its result. A failed
// fetch keeps the previous value and marks the feed unavailable.
type Feed[T any] struct {
	cfg    Config
	fetch  Fetcher[T]
	logger logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	entry     Snapshot[T]
	attempted bool

	group singleflight.Group
}

// New creates an empty feed. Nothing is fetched until the first read.
func New[T any](cfg Config, fetch Fetcher[T], log logger.Logger) *Feed[T] {
	if log == nil {
		log = logger.Nop()
	}
	return &Feed[T]{
		cfg:    cfg,
		fetch:  fetch,
		logger: log.With("feed", cfg.Name),
		now:    time.Now,
		entry:  Snapshot[T]{TTL: cfg.TTL},
	}
}

// Name returns the feed name.
func (f *Feed[T]) Name() string {
	return f.cfg.Name
}

// GetOrRefresh returns the cached value while it is fresh and otherwise
// refreshes it first. It never fails: on upstream errors the stale value
// (or the zero value) is returned with available=false.
func (f *Feed[T]) GetOrRefresh(ctx context.Context) (T, bool) {
	if snap, ok := f.fresh(); ok {
		return snap.Value, snap.Available
	}
	snap := f.load(ctx, false)
	return snap.Value, snap.Available
}

// Refresh fetches regardless of freshness, joining a fetch already in
// flight. Used by the periodic scheduler.
func (f *Feed[T]) Refresh(ctx context.Context) Snapshot[T] {
	return f.load(ctx, true)
}

// Snapshot returns the current state without any I/O.
func (f *Feed[T]) Snapshot() Snapshot[T] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.entry
}

func (f *Feed[T]) fresh() (Snapshot[T], bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.attempted {
		return f.entry, false
	}
	ttl := f.cfg.TTL
	if !f.entry.Available && f.cfg.FailureTTL > 0 && f.cfg.FailureTTL < ttl {
		ttl = f.cfg.FailureTTL
	}
	return f.entry, f.now().Before(f.entry.CheckedAt.Add(ttl))
}

func (f *Feed[T]) load(ctx context.Context, force bool) Snapshot[T] {
	ch := f.group.DoChan(f.cfg.Name, func() (interface{}, error) {
		// a flight may have completed between the caller's check and now
		if !force {
			if snap, ok := f.fresh(); ok {
				return snap, nil
			}
		}
		return f.refresh(ctx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Snapshot[T])
	case <-ctx.Done():
		// the fetch continues for the other waiters
		return f.Snapshot()
	}
}

func (f *Feed[T]) refresh(ctx context.Context) Snapshot[T] {
	fetchCtx := context.WithoutCancel(ctx)
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, f.cfg.Timeout)
		defer cancel()
	}

	start := f.now()
	value, err := f.fetch(fetchCtx)
	now := f.now()

	f.mu.Lock()
	first := !f.attempted
	wasAvailable := f.entry.Available
	f.attempted = true
	f.entry.CheckedAt = now
	f.entry.Err = err
	if err != nil {
		f.entry.Available = false
	} else {
		f.entry.Value = value
		f.entry.Available = true
		f.entry.FetchedAt = now
	}
	snap := f.entry
	f.mu.Unlock()

	duration := now.Sub(start)
	switch {
	case err != nil && wasAvailable:
		f.logger.Error("Feed became unavailable", "error", err, "last_success", snap.FetchedAt)
	case err != nil && first:
		f.logger.Warn("Feed unavailable", "error", err)
	case err != nil:
		f.logger.Debug("Feed still unavailable", "error", err)
	case !wasAvailable && !first:
		f.logger.Info("Feed recovered", "duration", duration)
	default:
		f.logger.Debug("Feed refreshed", "duration", duration)
	}

	return snap
}
