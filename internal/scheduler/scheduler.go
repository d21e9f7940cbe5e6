package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/transitwatch/internal/common/logger"
)

// Job is one periodic refresh.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Config controls the synchronous warm-up performed by Start.
type Config struct {
	WarmupTimeout time.Duration // upper bound for the whole warm-up
	RetryInterval time.Duration // first backoff delay between warm-up attempts
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		WarmupTimeout: 20 * time.Second,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Permanent marks a job error that a warm-up retry cannot fix, such as a
// missing credential.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type jobStatus struct {
	runs        int
	failures    int
	lastRun     time.Time
	lastSuccess time.Time
	lastError   string
}

// Scheduler runs each job on its own ticker. Jobs never block or cancel
// each other.
type Scheduler struct {
	config Config
	jobs   []Job
	logger logger.Logger

	mu        sync.RWMutex
	isRunning bool
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]*jobStatus
}

// New creates a scheduler for the given jobs
func New(config Config, log logger.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	status := make(map[string]*jobStatus, len(jobs))
	for _, job := range jobs {
		status[job.Name] = &jobStatus{}
	}
	return &Scheduler{
		config: config,
		jobs:   jobs,
		logger: log,
		status: status,
	}
}

// Start runs every job once, in parallel, and returns when all of them
// succeeded or the warm-up timeout elapsed. The periodic loops start
// afterwards and run until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("Starting refresh scheduler", "jobs", len(s.jobs), "warmup_timeout", s.config.WarmupTimeout)

	start := time.Now()
	s.warmUp(ctx)
	s.logger.Info("Warm-up finished", "duration", time.Since(start))

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	return nil
}

// Stop cancels the loops and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping refresh scheduler")
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.isRunning = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Refresh scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Trigger runs the named job immediately, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			s.logger.Info("Manual refresh triggered", "job", name)
			return s.runJob(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) warmUp(ctx context.Context) {
	warmCtx, cancel := context.WithTimeout(ctx, s.config.WarmupTimeout)
	defer cancel()

	// a plain Group: one job failing must not cancel the others
	var g errgroup.Group
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = s.config.RetryInterval
			b.MaxElapsedTime = s.config.WarmupTimeout

			attempt := 0
			err := backoff.RetryNotify(func() error {
				attempt++
				return s.runJob(warmCtx, job)
			}, backoff.WithContext(b, warmCtx), func(err error, wait time.Duration) {
				s.logger.Debug("Warm-up attempt failed, retrying", "job", job.Name, "attempt", attempt, "wait", wait, "error", err)
			})
			if err != nil {
				s.logger.Warn("Warm-up incomplete, serving without fresh data", "job", job.Name, "attempts", attempt, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Refresh loop stopping", "job", job.Name)
			return
		case <-ticker.C:
			if err := s.runJob(ctx, job); err != nil {
				s.logger.Warn("Scheduled refresh failed", "job", job.Name, "error", err)
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("job %s panicked: %v", job.Name, r))
		}
		s.record(job.Name, start, err)
	}()
	return job.Run(ctx)
}

func (s *Scheduler) record(name string, at time.Time, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st, ok := s.status[name]
	if !ok {
		st = &jobStatus{}
		s.status[name] = st
	}
	st.runs++
	st.lastRun = at
	if err != nil {
		st.failures++
		st.lastError = err.Error()
		return
	}
	st.lastSuccess = at
	st.lastError = ""
}

// GetStatus returns the current status of the scheduler and its jobs
func (s *Scheduler) GetStatus() map[string]interface{} {
	jobs := make(map[string]interface{}, len(s.jobs))

	s.statusMu.RLock()
	for _, job := range s.jobs {
		st := s.status[job.Name]
		entry := map[string]interface{}{
			"interval": job.Interval.String(),
			"runs":     st.runs,
			"failures": st.failures,
		}
		if !st.lastRun.IsZero() {
			entry["last_run"] = st.lastRun
		}
		if !st.lastSuccess.IsZero() {
			entry["last_success"] = st.lastSuccess
		}
		if st.lastError != "" {
			entry["last_error"] = st.lastError
		}
		jobs[job.Name] = entry
	}
	s.statusMu.RUnlock()

	return map[string]interface{}{
		"is_running": s.IsRunning(),
		"jobs":       jobs,
	}
}
