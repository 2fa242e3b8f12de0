package service

import (
	"context"
	"errors"
	"time"

	"uploadhook/internal/metrics"
	"uploadhook/internal/model"
	"uploadhook/internal/queue"

	"github.com/hashicorp/go-multierror"
)

// Queue is the durable job queue the batch loop pops from.
type Queue interface {
	Dequeue(ctx context.Context, n int) ([]model.JobRef, error)
	Stats(ctx context.Context) (queue.Stats, error)
	Ping(ctx context.Context) error
}

// Enqueuer pushes ids back onto the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, ids ...string) error
}

// Store is the durable record store.
type Store interface {
	FetchActive(ctx context.Context, ids []string) ([]model.WebhookRecord, error)
	FindAutoTriggerCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	PromoteToPending(ctx context.Context, ids []string) (int64, error)
	// Transition moves ids still in from to to and reports how many moved.
	Transition(ctx context.Context, ids []string, from, to model.Status) (int64, error)
	Ping(ctx context.Context) error
}

type BatchResult struct {
	Successful int
	Failed     int
}

// Processor performs the actual deliveries.
type Processor interface {
	ProcessBatch(ctx context.Context, records []model.WebhookRecord) (BatchResult, error)
	RetryDeadLetters(ctx context.Context, limit int) (int, error)
}

// Cleaner purges expired records. It may be left unset.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Reclaimer hands records stuck in delivering back to the queue. It may be left unset.
type Reclaimer interface {
	ReclaimStale(ctx context.Context) (int, error)
}

// ErrCleanupUnavailable is returned by a Cleaner whose backing capability is not provisioned.
var ErrCleanupUnavailable = errors.New("cleanup unavailable")

type Dependencies struct {
	Queue     Queue
	Store     Store
	Processor Processor

	// Optional.
	Cleaner   Cleaner
	Reclaimer Reclaimer
	Enqueuer  Enqueuer
	Observer  metrics.WorkerObserver
}

// StartupError reports dependencies that could not be resolved. It is fatal.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return "resolve worker dependencies: " + e.Err.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func (d Dependencies) Validate() error {
	var result *multierror.Error
	if d.Queue == nil {
		result = multierror.Append(result, errors.New("queue client is required"))
	}
	if d.Store == nil {
		result = multierror.Append(result, errors.New("datastore client is required"))
	}
	if d.Processor == nil {
		result = multierror.Append(result, errors.New("delivery processor is required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return &StartupError{Err: err}
	}
	return nil
}
