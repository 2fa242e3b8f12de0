package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"uploadhook/internal/model"
	"uploadhook/internal/repository"
	"uploadhook/internal/service"
	v1 "uploadhook/pkg/api/v1"
	"uploadhook/pkg/constraints"
	"uploadhook/pkg/logger"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Store is the part of the record repository a delivery needs.
type Store interface {
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Finish(ctx context.Context, id string, outcome repository.Outcome) error
	ResetDeadLetters(ctx context.Context, limit, maxAttempts int) ([]string, error)
	ReclaimStale(ctx context.Context, claimedBefore time.Time, limit int) ([]string, error)
	Transition(ctx context.Context, ids []string, from, to model.Status) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Timeout          time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxTotalAttempts int
	SigningSecret    string
	CleanupEnabled   bool
	// ClaimTimeout is how long a record may sit in delivering before it is
	// handed out again.
	ClaimTimeout time.Duration

	// Client overrides the HTTP client; nil builds one with Timeout.
	Client *http.Client
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

const reclaimBatch = 100

var (
	_ service.Processor = (*Processor)(nil)
	_ service.Cleaner   = (*Processor)(nil)
	_ service.Reclaimer = (*Processor)(nil)
)

// Processor posts webhook records to their receivers and records the outcome.
type Processor struct {
	store    Store
	enqueuer service.Enqueuer
	client   *http.Client
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

func NewProcessor(store Store, enqueuer service.Enqueuer, cfg Config) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		store:    store,
		enqueuer: enqueuer,
		client:   client,
		cfg:      cfg,
		now:      now,
		log:      logger.With(zap.String("component", "delivery")),
	}
}

// ProcessBatch delivers every record it manages to claim. Records claimed by
// another replica are skipped and counted in neither total. Claim failures are
// returned together with the partial result; a failed outcome write is only
// logged and the record is reclaimed once its claim goes stale.
func (p *Processor) ProcessBatch(ctx context.Context, records []model.WebhookRecord) (service.BatchResult, error) {
	var res service.BatchResult
	var result *multierror.Error

	for _, rec := range records {
		ok, err := p.store.Claim(ctx, rec.ID, p.now())
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("claim %s: %w", rec.ID, err))
			continue
		}
		if !ok {
			p.log.Debug("record already claimed", zap.String("id", rec.ID))
			continue
		}

		outcome := p.deliver(ctx, rec)
		if err := p.store.Finish(ctx, rec.ID, outcome); err != nil {
			p.log.Error("failed to record delivery outcome",
				zap.String("id", rec.ID),
				zap.String("status", string(outcome.Status)),
				zap.Error(err))
		}

		if outcome.Status == model.StatusCompleted {
			res.Successful++
		} else {
			res.Failed++
			p.log.Warn("webhook delivery failed",
				zap.String("id", rec.ID),
				zap.String("status", string(outcome.Status)),
				zap.Int("attempt_count", outcome.AttemptCount),
				zap.String("error", outcome.ErrorMessage))
		}
	}
	return res, result.ErrorOrNil()
}

func (p *Processor) deliver(ctx context.Context, rec model.WebhookRecord) repository.Outcome {
	out := repository.Outcome{AttemptCount: rec.AttemptCount}
	if rec.WebhookURL == "" {
		out.Status = model.StatusFailed
		out.AttemptedAt = p.now()
		out.ErrorMessage = "no webhook url"
		return out
	}

	backoff := p.cfg.InitialBackoff
	for i := 0; i < p.cfg.MaxAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff); err != nil {
				out.ErrorMessage = err.Error()
				break
			}
			backoff *= 2
		}

		out.AttemptCount++
		out.AttemptedAt = p.now()
		code, err := p.post(ctx, rec, out.AttemptCount)
		if err == nil {
			out.Status = model.StatusCompleted
			out.ErrorMessage = ""
			return out
		}
		out.ErrorMessage = err.Error()
		if permanent(code) {
			out.Status = model.StatusFailed
			return out
		}
	}

	out.Status = model.StatusDeadLetter
	return out
}

func (p *Processor) post(ctx context.Context, rec model.WebhookRecord, attempt int) (int, error) {
	deliveryID := uuid.NewString()
	event := v1.WebhookEvent{
		Event:      constraints.EventUploadCompleted,
		ID:         rec.ID,
		Provider:   rec.Provider,
		Filename:   rec.Filename,
		Attempt:    attempt,
		DeliveryID: deliveryID,
		SentAt:     p.now().UTC(),
	}
	body := event.ToJSON()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", constraints.HeaderUserAgent)
	req.Header.Set(constraints.HeaderWebhookID, rec.ID)
	req.Header.Set(constraints.HeaderDeliveryID, deliveryID)
	req.Header.Set(constraints.HeaderEvent, constraints.EventUploadCompleted)
	if p.cfg.SigningSecret != "" {
		req.Header.Set(constraints.HeaderSignature, constraints.SignaturePrefix+Sign(p.cfg.SigningSecret, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("receiver returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// permanent reports receiver answers that retrying will not change.
func permanent(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryDeadLetters resets up to limit dead-lettered records to pending and
// puts them back on the queue. When the enqueue fails the reset is rolled
// back, and the count covers only records left pending.
func (p *Processor) RetryDeadLetters(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	ids, err := p.store.ResetDeadLetters(ctx, limit, p.cfg.MaxTotalAttempts)
	if err != nil {
		return 0, fmt.Errorf("reset dead letters: %w", err)
	}
	n, err := p.requeue(ctx, ids, model.StatusDeadLetter)
	if err != nil {
		return n, fmt.Errorf("requeue retried records: %w", err)
	}
	return n, nil
}

// ReclaimStale hands records whose claim outlived ClaimTimeout back to the
// queue.
func (p *Processor) ReclaimStale(ctx context.Context) (int, error) {
	ids, err := p.store.ReclaimStale(ctx, p.now().Add(-p.cfg.ClaimTimeout), reclaimBatch)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	n, err := p.requeue(ctx, ids, model.StatusDelivering)
	if err != nil {
		return n, fmt.Errorf("requeue reclaimed records: %w", err)
	}
	return n, nil
}

// requeue enqueues ids that were just moved to pending. If the enqueue fails
// they are moved back to restore so a later pass picks them up again. It
// reports how many ids stay pending.
func (p *Processor) requeue(ctx context.Context, ids []string, restore model.Status) (int, error) {
	if len(ids) == 0 || p.enqueuer == nil {
		return len(ids), nil
	}
	enqErr := p.enqueuer.Enqueue(ctx, ids...)
	if enqErr == nil {
		return len(ids), nil
	}

	result := multierror.Append(nil, fmt.Errorf("enqueue %d records: %w", len(ids), enqErr))
	reverted, err := p.store.Transition(ctx, ids, model.StatusPending, restore)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("restore %s: %w", restore, err))
	}
	return len(ids) - int(reverted), result.ErrorOrNil()
}

// CleanupExpired purges expired records that are not mid-delivery.
func (p *Processor) CleanupExpired(ctx context.Context) (int64, error) {
	if !p.cfg.CleanupEnabled {
		return 0, fmt.Errorf("%w: disabled by configuration", service.ErrCleanupUnavailable)
	}
	n, err := p.store.DeleteExpired(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return n, nil
}
