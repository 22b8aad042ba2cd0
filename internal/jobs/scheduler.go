package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

const defaultTimeout = 5 * time.Minute

// Job is a named task run on a cron schedule.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their schedules. Overlapping runs of the same job
// are skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	metrics *jobMetrics
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]Job
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithRegisterer records job metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) { s.metrics = newJobMetrics(reg) }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New constructs a Scheduler. Each run is bounded by timeout.
func New(logger *slog.Logger, timeout time.Duration, opts ...Option) *Scheduler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Scheduler{
		logger:  logger.With("component", "jobs"),
		timeout: timeout,
		now:     time.Now,
		jobs:    make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newJobMetrics(prometheus.DefaultRegisterer)
	}
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	return s
}

// Add validates a job's schedule and registers it.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job requires a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.execute(ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Start runs the schedule in the background. The returned channel is closed
// once ctx is cancelled and every running job has returned.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

// RunNow executes a registered job immediately.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(parent context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	started := s.now()
	err := job.Run(ctx)
	elapsed := s.now().Sub(started)

	status := "success"
	if err != nil {
		status = "error"
		s.logger.Warn("job failed", "job", job.Name, "duration", elapsed, "error", err)
	} else {
		s.logger.Info("job finished", "job", job.Name, "duration", elapsed)
		s.metrics.lastSuccess.WithLabelValues(job.Name).Set(float64(s.now().Unix()))
	}
	s.metrics.runs.WithLabelValues(job.Name, status).Inc()
	s.metrics.duration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	return err
}

type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
