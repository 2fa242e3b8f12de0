package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// RunCleanup purges expired records. It is best effort.
func (c *Coordinator) RunCleanup(ctx context.Context) {
	if err := c.cleanup(ctx); err != nil {
		c.log.Warn("cleanup failed", zap.Error(err))
	}
}

func (c *Coordinator) cleanup(ctx context.Context) error {
	if c.deps.Cleaner == nil {
		c.log.Debug("cleanup not provisioned, skipping")
		return nil
	}
	n, err := c.deps.Cleaner.CleanupExpired(ctx)
	if errors.Is(err, ErrCleanupUnavailable) {
		c.log.Debug("cleanup unavailable, skipping", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if n > 0 {
		c.metrics.observer.AddPurged(n)
		c.log.Info("expired webhooks purged", zap.Int64("purged", n))
	}
	return nil
}
