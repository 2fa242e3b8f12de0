package v1

import "time"

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type CheckResult struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthReport struct {
	Status  HealthStatus           `json:"status"`
	Checks  map[string]CheckResult `json:"checks"`
	Metrics MetricsSnapshot        `json:"metrics"`
}

// MetricsSnapshot is a read-only copy of the worker counters.
type MetricsSnapshot struct {
	WebhooksProcessed  int64      `json:"webhooks_processed"`
	WebhooksSucceeded  int64      `json:"webhooks_succeeded"`
	WebhooksFailed     int64      `json:"webhooks_failed"`
	DeadLettersRetried int64      `json:"dead_letters_retried"`
	Errors             int64      `json:"errors"`
	LastRunDurationMs  int64      `json:"last_run_duration_ms"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`

	Hostname          string      `json:"hostname"`
	PID               int         `json:"pid"`
	UptimeSeconds     float64     `json:"uptime_seconds"`
	State             string      `json:"state"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	RecentRuns        []RunRecord `json:"recent_runs"`
}

type RunRecord struct {
	At         time.Time `json:"at"`
	DurationMs int64     `json:"duration_ms"`
	Dequeued   int       `json:"dequeued"`
	Delivered  int       `json:"delivered"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

type RetryResponse struct {
	Ran     bool `json:"ran"`
	Retried int  `json:"retried"`
}
