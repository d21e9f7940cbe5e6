package transit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/transitwatch/internal/broadcast"
	"github.com/transitwatch/internal/common/config"
	"github.com/transitwatch/internal/common/logger"
	"github.com/transitwatch/internal/feedcache"
	"github.com/transitwatch/internal/prediction"
	"github.com/transitwatch/internal/scheduler"
	"github.com/transitwatch/pkg/models"
)

var (
	// ErrInvalidInput rejects malformed caller arguments. It is distinct
	// from an empty result.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned by request-scoped lookups (trip and stop
	// search) when the upstream failed and nothing is cached.
	ErrUnavailable = errors.New("upstream unavailable")
)

const (
	// JobDisruptions and JobTraffic name the periodic refreshes.
	JobDisruptions = "disruptions"
	JobTraffic     = "traffic"

	// tripRetryInterval bounds how long a failed trip or stop search is
	// remembered.
	tripRetryInterval = 15 * time.Second
)

// Service owns the feed caches, the prediction engine, the broadcast hub
// and the refresh scheduler for the lifetime of the process.
type Service struct {
	cfg      *config.Config
	src      Sources
	logger   logger.Logger
	validate *validator.Validate
	now      func() time.Time

	// lights is the polled default area, areaLights holds explicitly
	// requested areas and may evict them
	disruptions *feedcache.Feed[[]models.Disruption]
	situations  *feedcache.Feed[[]models.TrafficSituation]
	delays      *feedcache.Feed[map[string]int]
	lights      *feedcache.Feed[[]models.TrafficLightStatus]
	areaLights  *feedcache.Group[[]models.TrafficLightStatus]
	trips       *feedcache.Group[models.TripSearchResult]
	locations   *feedcache.Group[[]models.Location]

	engine    *prediction.Engine
	hub       *broadcast.Hub
	scheduler *scheduler.Scheduler

	mu        sync.Mutex
	isRunning bool
	cancelFn  context.CancelFunc
	hubDone   chan struct{}
}

// New wires a service. Nothing is fetched until Start or the first read.
func New(cfg *config.Config, src Sources, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.Upstream.HTTPTimeout

	s := &Service{
		cfg:      cfg,
		src:      src,
		logger:   log,
		validate: validator.New(),
		now:      time.Now,
	}

	s.disruptions = feedcache.New(feedcache.Config{
		Name:    "disruptions",
		TTL:     cfg.Cache.DisruptionsTTL,
		Timeout: timeout,
	}, src.Disruptions.Fetch, log)
	s.situations = feedcache.New(feedcache.Config{
		Name:    "traffic_situations",
		TTL:     cfg.Cache.TrafficTTL,
		Timeout: timeout,
	}, src.Situations.Fetch, log)
	s.delays = feedcache.New(feedcache.Config{
		Name:    "transit_delays",
		TTL:     cfg.Cache.DelaysTTL,
		Timeout: timeout,
	}, src.Delays.Fetch, log)
	s.lights = feedcache.New(feedcache.Config{
		Name:    "traffic_lights",
		TTL:     cfg.Cache.TrafficTTL,
		Timeout: timeout,
	}, func(ctx context.Context) ([]models.TrafficLightStatus, error) {
		return src.Lights.Fetch(ctx, "")
	}, log)
	s.areaLights = feedcache.NewGroup[[]models.TrafficLightStatus](feedcache.Config{
		Name:    "traffic_lights_area",
		TTL:     cfg.Cache.TrafficTTL,
		Timeout: timeout,
	}, cfg.Cache.LightsAreas, log)
	s.trips = feedcache.NewGroup[models.TripSearchResult](feedcache.Config{
		Name:       "trips",
		TTL:        cfg.Cache.RoutesTTL,
		FailureTTL: tripRetryInterval,
		Timeout:    timeout,
	}, cfg.Cache.TripSearches, log)
	s.locations = feedcache.NewGroup[[]models.Location](feedcache.Config{
		Name:       "locations",
		TTL:        cfg.Cache.RoutesTTL,
		FailureTTL: tripRetryInterval,
		Timeout:    timeout,
	}, cfg.Cache.TripSearches, log)

	s.engine = prediction.NewEngine(prediction.DefaultRules(), cfg.Prediction.RadiusKM, cfg.Location())
	s.hub = broadcast.NewHub(broadcast.Config{
		QueueSize: cfg.Stream.QueueSize,
		Heartbeat: cfg.Stream.Heartbeat,
	}, func() any { return s.snapshot() }, log.With("component", "hub"))

	s.scheduler = scheduler.New(scheduler.Config{
		WarmupTimeout: cfg.Polling.WarmupTimeout,
		RetryInterval: scheduler.DefaultConfig().RetryInterval,
	}, log.With("component", "scheduler"),
		scheduler.Job{Name: JobDisruptions, Interval: cfg.Polling.DisruptionsInterval, Run: s.refreshDisruptions},
		scheduler.Job{Name: JobTraffic, Interval: cfg.Polling.TrafficInterval, Run: s.refreshTraffic},
	)

	return s
}

// Start warms every scheduled feed synchronously, then starts the refresh
// loops and the hub sweeper. It returns once the service is ready.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("transit service is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.scheduler.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.hubDone = make(chan struct{})
	go func() {
		defer close(s.hubDone)
		s.hub.Run(ctx)
	}()

	s.cancelFn = cancel
	s.isRunning = true
	s.logger.Info("Transit service started")
	return nil
}

// Stop halts the refresh loops and disconnects every subscriber.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.logger.Info("Stopping transit service")
	s.scheduler.Stop()
	s.cancelFn()
	<-s.hubDone

	s.isRunning = false
	s.logger.Info("Transit service stopped")
}

// IsRunning reports whether Start completed and Stop was not called.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Subscribe opens a live event stream. The first two events are
// "connected" and "snapshot".
func (s *Service) Subscribe() *broadcast.Subscriber {
	return s.hub.Subscribe()
}

// Refresh runs a scheduled job immediately.
func (s *Service) Refresh(ctx context.Context, job string) error {
	return s.scheduler.Trigger(ctx, job)
}

// Health summarises feed availability without upstream I/O.
func (s *Service) Health() map[string]interface{} {
	disruptions := s.disruptions.Snapshot()
	situations := s.situations.Snapshot()
	delays := s.delays.Snapshot()
	lights := s.lights.Snapshot()

	feeds := map[string]interface{}{
		"disruptions":        feedStatus(disruptions.Available, disruptions.FetchedAt),
		"traffic_situations": feedStatus(situations.Available, situations.FetchedAt),
		"traffic_lights":     feedStatus(lights.Available, lights.FetchedAt),
		"transit_delays":     feedStatus(delays.Available, delays.FetchedAt),
	}

	return map[string]interface{}{
		"status":             "healthy",
		"timestamp":          s.now().UTC(),
		"disruptions_count":  len(disruptions.Value),
		"api_configured":     s.cfg.Upstream.APIKey != "",
		"planner_configured": s.src.Planner.Configured(),
		"feeds":              feeds,
		"scheduler":          s.scheduler.GetStatus(),
		"stream":             s.hub.GetStatus(),
	}
}

func feedStatus(available bool, fetchedAt time.Time) map[string]interface{} {
	status := map[string]interface{}{"available": available}
	if !fetchedAt.IsZero() {
		status["last_success"] = fetchedAt.UTC()
	}
	return status
}

func (s *Service) invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
