package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"meteo-platform/pkg/logging"
)

// Job is one periodic unit of work
type Job func(ctx context.Context) error

// Scheduler runs jobs on fixed intervals. A job never overlaps itself: a run
// still in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *logging.StructuredLogger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a stopped scheduler. Jobs receive a context that is cancelled
// by Stop.
func New(logger *logging.StructuredLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Every registers job to run now and then every interval
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", interval, name)
	}

	_, err := s.scheduler.Every(interval).SingletonMode().Tag(name).Do(func() {
		start := time.Now()
		s.logger.Debug(s.ctx, "[SCHEDULER_RUN] Running scheduled job", logging.Fields{"job": name})

		if err := job(s.ctx); err != nil {
			s.logger.Error(s.ctx, "[SCHEDULER_RUN] Scheduled job failed", logging.Fields{
				"job":         name,
				"duration_ms": time.Since(start).Milliseconds(),
			}, err)
			return
		}

		s.logger.Info(s.ctx, "[SCHEDULER_RUN] Scheduled job completed", logging.Fields{
			"job":         name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	return nil
}

// Start begins running registered jobs in the background
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
	s.logger.Info(s.ctx, "[SCHEDULER_START] Scheduler started", logging.Fields{
		"jobs": len(s.scheduler.Jobs()),
	})
}

// Stop cancels running jobs and stops future runs
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
	s.logger.Info(context.Background(), "[SCHEDULER_STOP] Scheduler stopped", nil)
}
