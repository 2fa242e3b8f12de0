package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"uploadhook/internal/buffer"
	"uploadhook/internal/queue"
	v1 "uploadhook/pkg/api/v1"
	"uploadhook/pkg/logger"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrConsecutiveFailures is the exit cause after too many failed batch ticks in a row.
var ErrConsecutiveFailures = errors.New("too many consecutive batch failures")

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	taskBatch         = "batch"
	taskMaintenance   = "maintenance"
	taskCleanup       = "cleanup"
	taskMetricsReport = "metrics_report"
)

type Schedule struct {
	Batch         time.Duration
	Maintenance   time.Duration
	Cleanup       time.Duration
	MetricsReport time.Duration
}

type Options struct {
	Hostname string

	BatchSize              int
	BacklogWarnThreshold   int64
	AutoTriggerLimit       int
	DeadLetterLimit        int
	DeadLetterMinInterval  time.Duration
	MaxConsecutiveFailures int
	StartupJitter          time.Duration
	OperationTimeout       time.Duration
	ShutdownTimeout        time.Duration
	HealthTimeout          time.Duration
	RunHistorySize         int

	Schedule Schedule

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		BatchSize:              200,
		BacklogWarnThreshold:   500,
		AutoTriggerLimit:       50,
		DeadLetterLimit:        20,
		DeadLetterMinInterval:  30 * time.Second,
		MaxConsecutiveFailures: 5,
		StartupJitter:          2 * time.Second,
		OperationTimeout:       30 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		HealthTimeout:          3 * time.Second,
		RunHistorySize:         20,
		Schedule: Schedule{
			Batch:         5 * time.Second,
			Maintenance:   10 * time.Second,
			Cleanup:       60 * time.Second,
			MetricsReport: 300 * time.Second,
		},
	}
}

// Coordinator owns the worker's timers, counters and lifecycle.
type Coordinator struct {
	opts      Options
	deps      Dependencies
	identity  Identity
	metrics   *WorkerMetrics
	history   *buffer.RunHistory
	log       *zap.Logger
	now       func() time.Time
	startedAt time.Time

	mu                sync.Mutex
	state             State
	consecutiveErrors int
	escalated         bool
	lastDeadLetterRun time.Time

	cron    *cron.Cron
	entries map[string]cron.EntryID

	stopReq  chan error
	stopOnce sync.Once
	stopped  chan struct{}
	exitErr  error
}

func NewCoordinator(deps Dependencies, opts Options) (*Coordinator, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, &StartupError{Err: fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)}
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	identity := ResolveIdentity(opts.Hostname)
	log := logger.With(identity.fields()...)
	cl := cronLogger{s: log.Sugar()}

	return &Coordinator{
		opts:      opts,
		deps:      deps,
		identity:  identity,
		metrics:   newWorkerMetrics(deps.Observer),
		history:   buffer.NewRunHistory(opts.RunHistorySize),
		log:       log,
		now:       now,
		startedAt: now(),
		state:     StateStarting,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		entries:   make(map[string]cron.EntryID),
		stopReq:   make(chan error, 1),
		stopped:   make(chan struct{}),
	}, nil
}

func (c *Coordinator) Identity() Identity { return c.identity }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run starts the scheduled tasks after a startup jitter and blocks until the
// worker has drained. ctx cancellation is treated as a termination signal. The
// returned error is nil for a signal-initiated stop and the escalation cause
// otherwise.
func (c *Coordinator) Run(ctx context.Context) error {
	jitter := c.jitter()
	c.log.Info("webhook worker starting", zap.Duration("jitter", jitter))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return c.shutdown(context.Background(), nil)
	case err := <-c.stopReq:
		return c.shutdown(context.Background(), err)
	case <-c.stopped:
		return c.exitErr
	case <-timer.C:
	}

	c.start()

	select {
	case <-ctx.Done():
		c.log.Info("termination signal received")
		return c.shutdown(context.Background(), nil)
	case err := <-c.stopReq:
		return c.shutdown(context.Background(), err)
	case <-c.stopped:
		return c.exitErr
	}
}

func (c *Coordinator) jitter() time.Duration {
	if c.opts.StartupJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(c.opts.StartupJitter)))
}

func (c *Coordinator) start() {
	tasks := []struct {
		name  string
		every time.Duration
		run   func()
	}{
		{taskBatch, c.opts.Schedule.Batch, c.batchTask},
		{taskMaintenance, c.opts.Schedule.Maintenance, c.maintenanceTask},
		{taskCleanup, c.opts.Schedule.Cleanup, c.cleanupTask},
		{taskMetricsReport, c.opts.Schedule.MetricsReport, c.metricsReportTask},
	}

	c.mu.Lock()
	for _, t := range tasks {
		c.entries[t.name] = c.cron.Schedule(cron.Every(t.every), cron.FuncJob(t.run))
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.cron.Start()
	c.log.Info("webhook worker running",
		zap.Duration("batch_interval", c.opts.Schedule.Batch),
		zap.Duration("maintenance_interval", c.opts.Schedule.Maintenance),
		zap.Duration("cleanup_interval", c.opts.Schedule.Cleanup),
		zap.Duration("metrics_report_interval", c.opts.Schedule.MetricsReport),
		zap.Int("batch_size", c.opts.BatchSize))
}

// Shutdown drains the worker. Concurrent and repeated calls run the drain once
// and all wait for it.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.shutdown(ctx, nil)
}

func (c *Coordinator) shutdown(ctx context.Context, cause error) error {
	c.stopOnce.Do(func() { c.drain(ctx, cause) })
	<-c.stopped
	return c.exitErr
}

// Fail reports a condition nothing else caught. An idle connection reset is
// expected noise; anything else drains the worker.
func (c *Coordinator) Fail(err error) {
	if err == nil {
		return
	}
	if queue.IsConnReset(err) {
		c.log.Debug("ignoring idle connection reset", zap.Error(err))
		return
	}
	c.log.Error("uncaught worker failure", zap.Error(err))
	c.requestStop(err)
}

func (c *Coordinator) requestStop(err error) {
	select {
	case c.stopReq <- err:
	default:
	}
}

func (c *Coordinator) drain(ctx context.Context, cause error) {
	c.setState(StateDraining)
	if cause != nil {
		c.log.Error("draining webhook worker", zap.Error(cause))
	} else {
		c.log.Info("draining webhook worker")
	}

	c.mu.Lock()
	for name, id := range c.entries {
		c.cron.Remove(id)
		delete(c.entries, name)
	}
	c.mu.Unlock()

	// running ticks finish on their own
	wait := c.cron.Stop()
	timeout := time.NewTimer(c.opts.ShutdownTimeout)
	select {
	case <-wait.Done():
	case <-timeout.C:
		c.log.Warn("in-flight ticks still running at drain deadline")
	}
	timeout.Stop()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := c.RunBatch(drainCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("final batch: %w", err))
	}
	if err := c.cleanup(drainCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("final cleanup: %w", err))
	}

	snap := c.Metrics()
	if err := result.ErrorOrNil(); err != nil {
		c.log.Warn("drain completed with errors", zap.Error(err), zap.Int64("webhooks_processed", snap.WebhooksProcessed))
	} else {
		c.log.Info("drain completed", zap.Int64("webhooks_processed", snap.WebhooksProcessed))
	}

	c.exitErr = cause
	c.setState(StateStopped)
	close(c.stopped)
}

func (c *Coordinator) operationContext() (context.Context, context.CancelFunc) {
	if c.opts.OperationTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.opts.OperationTimeout)
}

func (c *Coordinator) batchTask() {
	ctx, cancel := c.operationContext()
	defer cancel()

	err := c.guard(taskBatch, func() error { return c.RunBatch(ctx) })
	var pe *PanicError
	if errors.As(err, &pe) {
		c.metrics.incErrors()
		c.Fail(err)
		return
	}
	c.recordBatchResult(err)
}

// recordBatchResult tracks consecutive batch failures and requests exactly one
// drain when the threshold is reached.
func (c *Coordinator) recordBatchResult(err error) {
	c.mu.Lock()
	if err == nil {
		c.consecutiveErrors = 0
		c.mu.Unlock()
		return
	}
	c.consecutiveErrors++
	n := c.consecutiveErrors
	trip := n >= c.opts.MaxConsecutiveFailures && !c.escalated
	if trip {
		c.escalated = true
	}
	c.mu.Unlock()

	c.log.Error("batch tick failed",
		zap.Error(err),
		zap.Int("consecutive_errors", n),
		zap.Int("threshold", c.opts.MaxConsecutiveFailures))
	if trip {
		c.requestStop(fmt.Errorf("%w: %d in a row, last: %w", ErrConsecutiveFailures, n, err))
	}
}

func (c *Coordinator) maintenanceTask() {
	ctx, cancel := c.operationContext()
	defer cancel()

	_ = c.guard("auto_trigger", func() error {
		c.RunAutoTrigger(ctx)
		return nil
	})
	_ = c.guard("dead_letter", func() error {
		c.RunDeadLetters(ctx)
		return nil
	})
}

func (c *Coordinator) cleanupTask() {
	ctx, cancel := c.operationContext()
	defer cancel()

	_ = c.guard("reclaim", func() error {
		c.RunReclaim(ctx)
		return nil
	})
	_ = c.guard(taskCleanup, func() error {
		c.RunCleanup(ctx)
		return nil
	})
}

func (c *Coordinator) metricsReportTask() {
	_ = c.guard(taskMetricsReport, func() error {
		s := c.Metrics()
		c.log.Info("worker metrics",
			zap.Int64("webhooks_processed", s.WebhooksProcessed),
			zap.Int64("webhooks_succeeded", s.WebhooksSucceeded),
			zap.Int64("webhooks_failed", s.WebhooksFailed),
			zap.Int64("dead_letters_retried", s.DeadLettersRetried),
			zap.Int64("errors", s.Errors),
			zap.Int64("last_run_duration_ms", s.LastRunDurationMs),
			zap.Float64("uptime_seconds", s.UptimeSeconds))
		return nil
	})
}

// PanicError is a panic recovered at a task boundary.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

func (c *Coordinator) guard(task string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("task panicked", zap.String("task", task), zap.Any("panic", r), zap.Stack("stack"))
			err = &PanicError{Task: task, Value: r}
		}
	}()
	return fn()
}

// Metrics returns a read-only snapshot. It has no side effects.
func (c *Coordinator) Metrics() v1.MetricsSnapshot {
	s := c.metrics.snapshot()

	c.mu.Lock()
	s.State = c.state.String()
	s.ConsecutiveErrors = c.consecutiveErrors
	c.mu.Unlock()

	s.Hostname = c.identity.Hostname
	s.PID = c.identity.PID
	s.UptimeSeconds = c.now().Sub(c.startedAt).Seconds()
	s.RecentRuns = c.history.Snapshot()
	return s
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
