package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs delivery cycles on a fixed interval. A cycle that
// finds no usable configuration is logged and skipped; the scheduler
// itself never stops on delivery errors.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(engine *Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the cycle loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Stop waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	res, err := s.engine.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrNoActiveConfig):
		s.logger.Warn("skipping cycle, no active delivery configuration")
	case err != nil:
		s.logger.Error("delivery cycle aborted", "error", err, "processed", res.Processed)
	}
}
