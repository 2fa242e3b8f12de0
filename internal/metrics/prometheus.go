package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	processed     prometheus.Counter
	succeeded     prometheus.Counter
	failed        prometheus.Counter
	deadLetters   prometheus.Counter
	autoTriggered prometheus.Counter
	purged        prometheus.Counter
	errors        prometheus.Counter
	batchDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
}

var (
	processedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_webhooks_processed_total",
		Help: "Webhook records handed to the delivery processor",
	})
	succeededCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_webhooks_succeeded_total",
		Help: "Webhook deliveries that completed",
	})
	failedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_webhooks_failed_total",
		Help: "Webhook deliveries that failed",
	})
	deadLettersCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_dead_letters_retried_total",
		Help: "Dead-lettered webhooks moved back to pending",
	})
	autoTriggeredCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_auto_triggered_total",
		Help: "Auto-trigger webhooks promoted from verifying to pending",
	})
	purgedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_purged_total",
		Help: "Expired webhook records removed by cleanup",
	})
	errorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadhook_worker_errors_total",
		Help: "Batch ticks that ended with an escalating error",
	})
	batchDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploadhook_batch_duration_seconds",
		Help:    "Duration of batch ticks that dequeued work",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploadhook_queue_depth",
		Help: "Last observed number of queued webhook jobs",
	})
)

func NewPrometheusObserver() WorkerObserver {
	return &prometheusObserver{
		processed:     processedCounter,
		succeeded:     succeededCounter,
		failed:        failedCounter,
		deadLetters:   deadLettersCounter,
		autoTriggered: autoTriggeredCounter,
		purged:        purgedCounter,
		errors:        errorsCounter,
		batchDuration: batchDurationHistogram,
		queueDepth:    queueDepthGauge,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) AddProcessed(successful, failed int) {
	p.processed.Add(float64(successful + failed))
	p.succeeded.Add(float64(successful))
	p.failed.Add(float64(failed))
}

func (p *prometheusObserver) AddDeadLettersRetried(n int) {
	p.deadLetters.Add(float64(n))
}

func (p *prometheusObserver) AddAutoTriggered(n int) {
	p.autoTriggered.Add(float64(n))
}

func (p *prometheusObserver) AddPurged(n int64) {
	p.purged.Add(float64(n))
}

func (p *prometheusObserver) IncErrors() {
	p.errors.Inc()
}

func (p *prometheusObserver) ObserveBatchDuration(d time.Duration) {
	p.batchDuration.Observe(d.Seconds())
}

func (p *prometheusObserver) SetQueueDepth(n int64) {
	p.queueDepth.Set(float64(n))
}
