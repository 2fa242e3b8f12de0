package service

import (
	"context"
	"fmt"
	"time"

	"uploadhook/internal/model"
	"uploadhook/internal/queue"
	v1 "uploadhook/pkg/api/v1"

	"go.uber.org/zap"
)

const stageDequeue = "dequeue"

// RunBatch performs one batch tick: dequeue, cross-check against the store,
// delegate to the processor, update metrics. Transient queue conditions on
// dequeue end the tick quietly; any other failure is counted and returned.
// Deliveries the processor completed before failing are still recorded.
func (c *Coordinator) RunBatch(ctx context.Context) error {
	start := c.now()

	jobs, err := c.deps.Queue.Dequeue(ctx, c.opts.BatchSize)
	if err != nil {
		return c.batchFailure(start, 0, stageDequeue, err)
	}
	if len(jobs) == 0 {
		return nil
	}

	c.checkBacklog(ctx)

	ids := uniqueIDs(jobs)
	records, err := c.deps.Store.FetchActive(ctx, ids)
	if err != nil {
		return c.batchFailure(start, len(jobs), "fetch records", err)
	}
	deliverable := orderByIDs(records, ids)
	if dropped := len(ids) - len(deliverable); dropped > 0 {
		c.log.Debug("dropped jobs without a deliverable record", zap.Int("dropped", dropped))
	}

	var res BatchResult
	if len(deliverable) > 0 {
		res, err = c.deps.Processor.ProcessBatch(ctx, deliverable)
	}

	end := c.now()
	duration := end.Sub(start)
	c.metrics.recordBatch(res, duration, end)
	run := v1.RunRecord{
		At:         end,
		DurationMs: duration.Milliseconds(),
		Dequeued:   len(jobs),
		Delivered:  len(deliverable),
		Successful: res.Successful,
		Failed:     res.Failed,
	}
	if err != nil {
		c.metrics.incErrors()
		run.Error = err.Error()
		c.history.Add(run)
		c.log.Error("batch partially processed",
			zap.Int("delivered", len(deliverable)),
			zap.Int("successful", res.Successful),
			zap.Int("failed", res.Failed),
			zap.Error(err))
		return fmt.Errorf("process batch: %w", err)
	}
	c.history.Add(run)

	c.log.Info("batch processed",
		zap.Int("dequeued", len(jobs)),
		zap.Int("delivered", len(deliverable)),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", duration))
	return nil
}

func (c *Coordinator) batchFailure(start time.Time, dequeued int, stage string, err error) error {
	// only the queue itself can be transiently unavailable
	if stage == stageDequeue {
		switch {
		case queue.IsQuotaExceeded(err):
			// no backoff beyond the next scheduled tick
			c.log.Info("queue quota exceeded, waiting for next tick", zap.Error(err))
			return nil
		case queue.IsConnReset(err):
			c.log.Debug("queue connection reset, waiting for next tick", zap.Error(err))
			return nil
		}
	}

	c.metrics.incErrors()
	end := c.now()
	c.history.Add(v1.RunRecord{
		At:         end,
		DurationMs: end.Sub(start).Milliseconds(),
		Dequeued:   dequeued,
		Error:      err.Error(),
	})
	return fmt.Errorf("%s: %w", stage, err)
}

// checkBacklog emits the backpressure warning. It never fails the tick.
func (c *Coordinator) checkBacklog(ctx context.Context) {
	stats, err := c.deps.Queue.Stats(ctx)
	if err != nil {
		c.log.Debug("queue stats unavailable", zap.Error(err))
		return
	}
	c.metrics.observer.SetQueueDepth(stats.Total)
	if stats.Total > c.opts.BacklogWarnThreshold {
		c.log.Warn("webhook queue backlog above threshold, consider scaling workers",
			zap.Int64("depth", stats.Total),
			zap.Int64("threshold", c.opts.BacklogWarnThreshold))
	}
}

func uniqueIDs(jobs []model.JobRef) []string {
	seen := make(map[string]struct{}, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == "" {
			continue
		}
		if _, ok := seen[j.ID]; ok {
			continue
		}
		seen[j.ID] = struct{}{}
		ids = append(ids, j.ID)
	}
	return ids
}

// orderByIDs returns the deliverable records in dequeue order. Records whose
// status moved on are dropped even if the store returned them.
func orderByIDs(records []model.WebhookRecord, ids []string) []model.WebhookRecord {
	byID := make(map[string]model.WebhookRecord, len(records))
	for _, r := range records {
		if r.Status.Deliverable() {
			byID[r.ID] = r
		}
	}
	out := make([]model.WebhookRecord, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
