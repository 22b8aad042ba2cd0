package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MRC-CLIMB/bryn/internal/service/stats"
	"github.com/MRC-CLIMB/bryn/pkg/config"
)

func newTestScheduler(t *testing.T, timeout time.Duration) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)), timeout, WithRegisterer(reg), WithClock(func() time.Time { return now }))
	return s, reg
}

func TestAddValidatesJobs(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	if err := s.Add(ctx, Job{Name: "bad", Spec: "every day", Run: noop}); err == nil {
		t.Fatalf("expected invalid cron spec to be rejected")
	}
	if err := s.Add(ctx, Job{Name: "ok", Spec: "*/30 * * * *", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(ctx, Job{Name: "ok", Spec: "0 9 * * *", Run: noop}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if err := s.RunNow(ctx, "missing"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestRunNowRecordsMetricsAndTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, 20*time.Millisecond)
	ctx := context.Background()

	var hadDeadline atomic.Bool
	if err := s.Add(ctx, Job{Name: "slow", Spec: "@hourly", Run: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(ctx, Job{Name: "fast", Spec: "@hourly", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.RunNow(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !hadDeadline.Load() {
		t.Fatalf("expected job context to carry a deadline")
	}
	if err := s.RunNow(ctx, "fast"); err != nil {
		t.Fatalf("run fast: %v", err)
	}

	if got := testutil.ToFloat64(s.metrics.runs.WithLabelValues("slow", "error")); got != 1 {
		t.Fatalf("expected one failed run, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.runs.WithLabelValues("fast", "success")); got != 1 {
		t.Fatalf("expected one successful run, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.lastSuccess.WithLabelValues("fast")); got != float64(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC).Unix()) {
		t.Fatalf("unexpected last success %v", got)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s, _ := newTestScheduler(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

func TestStartWaitsForRunningJob(t *testing.T) {
	s, _ := newTestScheduler(t, 5*time.Second)
	started := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	err := s.Add(context.Background(), Job{Name: "slow", Spec: "@every 1s", Run: func(context.Context) error {
		once.Do(func() { close(started) })
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Start(ctx)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		cancel()
		t.Fatalf("job never started")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if !finished.Load() {
		t.Fatalf("scheduler stopped before the running job returned")
	}
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh(context.Context) (stats.RefreshResult, error) {
	f.calls++
	return stats.RefreshResult{Updated: []string{"warwick"}}, nil
}

type fakeSender struct {
	sent int
	err  error
}

func (f fakeSender) SendReminders(context.Context) (int, error) { return f.sent, f.err }
func (f fakeSender) Send(context.Context) (int, error)          { return f.sent, f.err }

func TestStandardJobs(t *testing.T) {
	cfg := config.APIConfig{
		HypervisorStatsCron: "10 * * * *",
		LeaseReminderCron:   "*/30 * * * *",
		LicenceReminderCron: "0 9 * * *",
	}
	refresher := &fakeRefresher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	list := Standard(cfg, refresher, fakeSender{sent: 2}, fakeSender{err: errors.New("db down")}, logger)

	s, _ := newTestScheduler(t, time.Second)
	ctx := context.Background()
	for _, job := range list {
		if err := s.Add(ctx, job); err != nil {
			t.Fatalf("add %s: %v", job.Name, err)
		}
	}
	if err := s.RunNow(ctx, HypervisorStats); err != nil || refresher.calls != 1 {
		t.Fatalf("hypervisor stats job: %v (calls %d)", err, refresher.calls)
	}
	if err := s.RunNow(ctx, LeaseReminders); err != nil {
		t.Fatalf("lease reminders job: %v", err)
	}
	if err := s.RunNow(ctx, LicenceReminders); err == nil {
		t.Fatalf("expected licence reminder error to surface")
	}
}
