package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner prunes old delivery log entries in the background so the
// statistics table does not grow without bound.
type Cleaner struct {
	engine        *Engine
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCleaner(engine *Engine, retentionDays int, interval time.Duration, logger *slog.Logger) *Cleaner {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		engine:        engine,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With("component", "cleaner"),
		stopCh:        make(chan struct{}),
	}
}

func (c *Cleaner) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
	c.logger.Info("log cleaner started", "retention_days", c.retentionDays, "interval", c.interval)
}

func (c *Cleaner) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Cleaner) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.engine.ClearOldLogs(ctx, c.retentionDays); err != nil {
				c.logger.Error("failed to prune old logs", "error", err)
			}
		}
	}
}
