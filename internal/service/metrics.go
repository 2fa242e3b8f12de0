package service

import (
	"sync"
	"time"

	"uploadhook/internal/metrics"
	v1 "uploadhook/pkg/api/v1"
)

// WorkerMetrics holds the process counters. They only ever grow and reset on restart.
type WorkerMetrics struct {
	mu                 sync.Mutex
	processed          int64
	succeeded          int64
	failed             int64
	deadLettersRetried int64
	errors             int64
	lastRunDuration    time.Duration
	lastRunAt          time.Time

	observer metrics.WorkerObserver
}

func newWorkerMetrics(observer metrics.WorkerObserver) *WorkerMetrics {
	if observer == nil {
		observer = metrics.Nop()
	}
	return &WorkerMetrics{observer: observer}
}

func (m *WorkerMetrics) recordBatch(res BatchResult, d time.Duration, at time.Time) {
	m.mu.Lock()
	m.processed += int64(res.Successful + res.Failed)
	m.succeeded += int64(res.Successful)
	m.failed += int64(res.Failed)
	m.lastRunDuration = d
	m.lastRunAt = at
	m.mu.Unlock()

	m.observer.AddProcessed(res.Successful, res.Failed)
	m.observer.ObserveBatchDuration(d)
}

func (m *WorkerMetrics) addDeadLettersRetried(n int) {
	m.mu.Lock()
	m.deadLettersRetried += int64(n)
	m.mu.Unlock()

	m.observer.AddDeadLettersRetried(n)
}

func (m *WorkerMetrics) incErrors() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()

	m.observer.IncErrors()
}

// snapshot fills the counter fields of a MetricsSnapshot.
func (m *WorkerMetrics) snapshot() v1.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := v1.MetricsSnapshot{
		WebhooksProcessed:  m.processed,
		WebhooksSucceeded:  m.succeeded,
		WebhooksFailed:     m.failed,
		DeadLettersRetried: m.deadLettersRetried,
		Errors:             m.errors,
		LastRunDurationMs:  m.lastRunDuration.Milliseconds(),
	}
	if !m.lastRunAt.IsZero() {
		at := m.lastRunAt
		s.LastRunAt = &at
	}
	return s
}
