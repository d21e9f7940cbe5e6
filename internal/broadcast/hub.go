package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transitwatch/internal/common/logger"
	"github.com/transitwatch/pkg/models"
)

var (
	// ErrClosed is returned by Next after the subscriber disconnected or
	// the hub shut down.
	ErrClosed = errors.New("subscription closed")
	// ErrEvicted is returned by Next after the hub dropped a subscriber
	// that stopped reading.
	ErrEvicted = errors.New("subscriber evicted")
)

// minQueueSize leaves room for the connected and snapshot events.
const minQueueSize = 2

// SnapshotFunc returns the payload of the snapshot event sent on connect.
type SnapshotFunc func() any

type Config struct {
	QueueSize int
	Heartbeat time.Duration
}

// Hub fans events out to subscribers, one bounded queue each. Publishing
// never blocks: a full queue drops the event for that subscriber only, and
// a subscriber that keeps dropping without reading is evicted by Sweep.
type Hub struct {
	cfg      Config
	snapshot SnapshotFunc
	logger   logger.Logger
	now      func() time.Time

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	evicted     int
}

func NewHub(cfg Config, snapshot SnapshotFunc, log logger.Logger) *Hub {
	if cfg.QueueSize < minQueueSize {
		cfg.QueueSize = minQueueSize
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if snapshot == nil {
		snapshot = func() any { return nil }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		cfg:         cfg,
		snapshot:    snapshot,
		logger:      log,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber. Its queue already holds the
// connected event followed by a snapshot of current state.
func (h *Hub) Subscribe() *Subscriber {
	now := h.now()
	s := &Subscriber{
		id:    uuid.NewString(),
		hub:   h,
		queue: make(chan models.Event, h.cfg.QueueSize),
		done:  make(chan struct{}),
	}
	s.lastRead.Store(now.UnixNano())

	s.queue <- models.NewEvent(models.EventConnected, map[string]string{
		"subscriber_id": s.id,
		"message":       "Connected to transitwatch",
	}, now)
	s.queue <- models.NewEvent(models.EventSnapshot, h.snapshot(), now)

	h.mu.Lock()
	h.subscribers[s.id] = s
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Subscriber connected", "subscriber_id", s.id, "subscribers", count)
	return s
}

// Publish offers evt to every subscriber without blocking and returns how
// many queues accepted it.
func (h *Hub) Publish(evt models.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, s := range h.subscribers {
		select {
		case s.queue <- evt:
			delivered++
		default:
			s.drops.Add(1)
		}
	}
	return delivered
}

// Sweep evicts subscribers that dropped events since the previous sweep
// and have not read anything for a full heartbeat interval.
func (h *Hub) Sweep(now time.Time) int {
	var stale []*Subscriber

	h.mu.RLock()
	for _, s := range h.subscribers {
		drops := s.drops.Swap(0)
		if drops == 0 {
			continue
		}
		idle := now.Sub(time.Unix(0, s.lastRead.Load()))
		if idle >= h.cfg.Heartbeat {
			stale = append(stale, s)
		} else {
			h.logger.Debug("Subscriber is lagging", "subscriber_id", s.id, "dropped", drops)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		if h.remove(s, ErrEvicted) {
			h.logger.Info("Evicted unresponsive subscriber", "subscriber_id", s.id)
		}
	}
	return len(stale)
}

// Run sweeps once per heartbeat interval until ctx is done, then closes
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return
		case <-ticker.C:
			h.Sweep(h.now())
		}
	}
}

// CloseAll disconnects every subscriber with ErrClosed.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.remove(s, ErrClosed)
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// GetStatus reports hub counters.
func (h *Hub) GetStatus() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"subscribers": len(h.subscribers),
		"evicted":     h.evicted,
		"queue_size":  h.cfg.QueueSize,
		"heartbeat":   h.cfg.Heartbeat.String(),
	}
}

func (h *Hub) remove(s *Subscriber, reason error) bool {
	h.mu.Lock()
	_, ok := h.subscribers[s.id]
	if ok {
		delete(h.subscribers, s.id)
		if errors.Is(reason, ErrEvicted) {
			h.evicted++
		}
	}
	h.mu.Unlock()

	s.close(reason)
	return ok
}
