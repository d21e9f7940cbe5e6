package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transitwatch/pkg/models"
)

// Subscriber is one client's view of the hub.
type Subscriber struct {
	id    string
	hub   *Hub
	queue chan models.Event

	drops    atomic.Int64
	lastRead atomic.Int64 // unix nanoseconds

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string {
	return s.id
}

// Done is closed once the subscriber is closed or evicted.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Next blocks until the next queued event. When nothing arrives within the
// heartbeat interval it returns a heartbeat event instead. After close or
// eviction it returns ErrClosed or ErrEvicted.
func (s *Subscriber) Next(ctx context.Context) (models.Event, error) {
	select {
	case <-s.done:
		return models.Event{}, s.err
	default:
	}

	timer := time.NewTimer(s.hub.cfg.Heartbeat)
	defer timer.Stop()

	select {
	case <-s.done:
		return models.Event{}, s.err
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	case evt := <-s.queue:
		s.touch()
		return evt, nil
	case <-timer.C:
		now := s.touch()
		return models.NewEvent(models.EventHeartbeat, map[string]time.Time{"timestamp": now.UTC()}, now), nil
	}
}

// Close unregisters the subscriber. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.remove(s, ErrClosed)
}

func (s *Subscriber) touch() time.Time {
	now := s.hub.now()
	s.lastRead.Store(now.UnixNano())
	return now
}

func (s *Subscriber) close(reason error) {
	s.closeOnce.Do(func() {
		s.err = reason
		close(s.done)
	})
}
