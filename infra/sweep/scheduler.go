// Package sweep owns the periodic cleanup clock. Components expose a Sweep
// operation and never self-schedule; one process-level loop drives them all,
// which keeps timers deterministic in tests and cancellable on shutdown.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Task is one periodic maintenance operation. Implementations guard against
// overlapping runs themselves; the scheduler fires them sequentially anyway.
type Task func()

type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	tasks    []Task
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(interval time.Duration, logger *slog.Logger, tasks ...Task) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		logger:   logger,
		interval: interval,
		tasks:    tasks,
	}
}

func (s *Scheduler) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, task := range s.tasks {
					task()
				}
			}
		}
	}()

	s.logger.Info("sweep scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) Stop(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}
