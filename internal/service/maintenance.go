package service

import (
	"context"

	"uploadhook/internal/model"

	"go.uber.org/zap"
)

// RunAutoTrigger promotes unexpired auto-trigger webhooks from verifying to
// pending with one bulk update. Errors stay inside.
func (c *Coordinator) RunAutoTrigger(ctx context.Context) {
	ids, err := c.deps.Store.FindAutoTriggerCandidates(ctx, c.now(), c.opts.AutoTriggerLimit)
	if err != nil {
		c.log.Error("auto-trigger lookup failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	n, err := c.deps.Store.PromoteToPending(ctx, ids)
	if err != nil {
		c.log.Error("auto-trigger promotion failed", zap.Int("candidates", len(ids)), zap.Error(err))
		return
	}
	if n == 0 {
		return
	}

	if c.deps.Enqueuer != nil {
		if err := c.deps.Enqueuer.Enqueue(ctx, ids...); err != nil {
			// back to verifying so the next tick promotes them again
			reverted, rerr := c.deps.Store.Transition(ctx, ids, model.StatusPending, model.StatusVerifying)
			c.log.Warn("failed to enqueue promoted webhooks, promotion reverted",
				zap.Int("count", len(ids)),
				zap.Int64("reverted", reverted),
				zap.Error(err),
				zap.NamedError("revert_error", rerr))
			n -= reverted
			if n <= 0 {
				return
			}
		}
	}
	c.metrics.observer.AddAutoTriggered(int(n))
	c.log.Info("auto-trigger webhooks promoted", zap.Int("candidates", len(ids)), zap.Int64("promoted", n))
}

// RunDeadLetters retries dead-lettered webhooks at most once per
// DeadLetterMinInterval regardless of how often it is called. ran is false
// when the call was throttled.
func (c *Coordinator) RunDeadLetters(ctx context.Context) (retried int, ran bool) {
	now := c.now()

	c.mu.Lock()
	if !c.lastDeadLetterRun.IsZero() && now.Sub(c.lastDeadLetterRun) < c.opts.DeadLetterMinInterval {
		c.mu.Unlock()
		return 0, false
	}
	c.lastDeadLetterRun = now
	c.mu.Unlock()

	n, err := c.deps.Processor.RetryDeadLetters(ctx, c.opts.DeadLetterLimit)
	if n > 0 {
		c.metrics.addDeadLettersRetried(n)
		c.log.Info("dead-letter webhooks retried", zap.Int("retried", n), zap.Int("limit", c.opts.DeadLetterLimit))
	}
	if err != nil {
		c.log.Error("dead-letter retry failed", zap.Int("retried", n), zap.Error(err))
	}
	return n, true
}

// RunReclaim puts records whose delivery claim went stale back on the queue.
// It is best effort.
func (c *Coordinator) RunReclaim(ctx context.Context) int {
	if c.deps.Reclaimer == nil {
		return 0
	}
	n, err := c.deps.Reclaimer.ReclaimStale(ctx)
	if n > 0 {
		c.log.Info("stale delivery claims reclaimed", zap.Int("reclaimed", n))
	}
	if err != nil {
		c.log.Warn("stale claim reclaim failed", zap.Int("reclaimed", n), zap.Error(err))
	}
	return n
}
