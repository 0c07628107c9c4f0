// Package sweep runs the staged-upload cleanup on a cron schedule.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"mitsnews.org/internal/obs"
)

// Sweeper deletes staged blobs older than a cutoff. *assets.Manager satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// Config controls the schedule.
type Config struct {
	Schedule  string
	Retention time.Duration
	// Timeout bounds one run; zero means four minutes.
	Timeout time.Duration
}

// Scheduler wraps a cron runner with a single sweep job.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     Config
	now     func() time.Time
}

// New validates the schedule and registers the job. Overlapping runs are skipped.
func New(sweeper Sweeper, cfg Config) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("sweep: sweeper is required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("sweep: retention must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Minute
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper: sweeper,
		cfg:     cfg,
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runScheduled); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	obs.Info("sweep_scheduled", map[string]any{"schedule": s.cfg.Schedule, "retention": s.cfg.Retention.String()})
}

// Stop halts the schedule and waits for a running sweep, or ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep with the configured retention.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	cutoff := s.now().Add(-s.cfg.Retention)
	start := time.Now()
	n, err := s.sweeper.Sweep(ctx, cutoff)
	fields := map[string]any{
		"deleted":     n,
		"cutoff":      cutoff.UTC().Format(time.RFC3339),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["err"] = err
		obs.Error("sweep_failed", fields)
		return n, err
	}
	obs.Info("sweep_complete", fields)
	return n, nil
}

func (s *Scheduler) runScheduled() {
	_, _ = s.RunOnce(context.Background())
}
