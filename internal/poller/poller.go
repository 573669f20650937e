package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
)

// Job is one periodically refreshed view.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // Per-run timeout, 0 for none
	Run      func(ctx context.Context) error
}

// ResultFunc observes every completed run.
type ResultFunc func(name string, d time.Duration, err error)

// Scheduler runs jobs on independent loops.
type Scheduler struct {
	clock    quartz.Clock
	logger   *slog.Logger
	onResult ResultFunc

	paused atomic.Bool

	mu      sync.Mutex
	loops   map[string]*loop
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type loop struct {
	job     Job
	refresh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock driving the tickers.
func WithClock(c quartz.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithResultFunc sets a callback invoked after every run.
func WithResultFunc(fn ResultFunc) Option {
	return func(s *Scheduler) {
		s.onResult = fn
	}
}

// New creates a new Scheduler.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		clock:  quartz.NewReal(),
		logger: logger,
		loops:  make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. If the scheduler is running the job starts at once.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	l := &loop{
		job:     job,
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.loops[job.Name] = l

	if s.started {
		s.startLoopLocked(l)
	}
	return nil
}

// Remove stops and unregisters a job. When Remove returns the job will not
// be called again.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	l, ok := s.loops[name]
	if ok {
		delete(s.loops, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	s.logger.Debug("poll job removed", "job", name)
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	return names
}

// Start begins all registered loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, l := range s.loops {
		s.startLoopLocked(l)
	}

	s.logger.Info("poll scheduler started", "jobs", len(s.loops))
	return nil
}

// Stop gracefully shuts down all loops.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("poll scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause suspends scheduled runs. Explicit refreshes still run.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info("polling paused")
	}
}

// Resume restarts scheduled runs and refreshes every job at once.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info("polling resumed")
		s.Refresh()
	}
}

// Paused reports whether scheduled runs are suspended.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Refresh asks the named jobs, or all jobs if none are named, to run now
// instead of waiting for their next tick. Requests coalesce.
func (s *Scheduler) Refresh(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(names) == 0 {
		for _, l := range s.loops {
			l.poke()
		}
		return
	}
	for _, name := range names {
		l, ok := s.loops[name]
		if !ok {
			s.logger.Debug("refresh for unknown job", "job", name)
			continue
		}
		l.poke()
	}
}

func (l *loop) poke() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) startLoopLocked(l *loop) {
	ctx, cancel := context.WithCancel(s.ctx)
	l.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx, l)
}

// run is one job's loop.
func (s *Scheduler) run(ctx context.Context, l *loop) {
	defer s.wg.Done()
	defer close(l.done)

	ticker := s.clock.NewTicker(l.job.Interval, "poller", l.job.Name)
	defer ticker.Stop()

	// Poll immediately on start.
	if !s.paused.Load() {
		s.runOnce(ctx, l.job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			s.runOnce(ctx, l.job)
		case <-l.refresh:
			s.runOnce(ctx, l.job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := s.clock.Now()
	err := job.Run(runCtx)
	d := s.clock.Since(start)

	if err != nil && ctx.Err() == nil {
		s.logger.Warn("poll failed",
			"job", job.Name,
			"err", err,
			"duration", d,
		)
	}

	if s.onResult != nil && ctx.Err() == nil {
		s.onResult(job.Name, d, err)
	}
}
