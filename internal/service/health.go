package service

import (
	"context"
	"sync"
	"time"

	v1 "uploadhook/pkg/api/v1"

	"golang.org/x/sync/errgroup"
)

const (
	checkQueue     = "queue"
	checkDatastore = "datastore"
)

type HealthOptions struct {
	Queue     bool
	Datastore bool
}

// HealthCheck pings the selected dependencies concurrently and derives the
// verdict: a failing datastore is unhealthy, a failing queue alone is degraded.
func (c *Coordinator) HealthCheck(ctx context.Context, opts HealthOptions) v1.HealthReport {
	checks := make(map[string]v1.CheckResult, 2)
	var mu sync.Mutex
	var g errgroup.Group

	check := func(name string, ping func(context.Context) error) {
		g.Go(func() error {
			res := c.runCheck(ctx, ping)
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	if opts.Queue {
		check(checkQueue, c.deps.Queue.Ping)
	}
	if opts.Datastore {
		check(checkDatastore, c.deps.Store.Ping)
	}
	_ = g.Wait()

	return v1.HealthReport{
		Status:  verdict(checks),
		Checks:  checks,
		Metrics: c.Metrics(),
	}
}

func (c *Coordinator) runCheck(ctx context.Context, ping func(context.Context) error) v1.CheckResult {
	timeout := c.opts.HealthTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	res := v1.CheckResult{OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func verdict(checks map[string]v1.CheckResult) v1.HealthStatus {
	if ds, ok := checks[checkDatastore]; ok && !ds.OK {
		return v1.StatusUnhealthy
	}
	if q, ok := checks[checkQueue]; ok && !q.OK {
		return v1.StatusDegraded
	}
	return v1.StatusHealthy
}
