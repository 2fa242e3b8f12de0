package repository

import (
	"context"
	"time"

	"uploadhook/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookInterface is the persistence surface used by the worker and the delivery processor.
type WebhookInterface interface {
	FetchActive(ctx context.Context, ids []string) ([]model.WebhookRecord, error)
	FindAutoTriggerCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	PromoteToPending(ctx context.Context, ids []string) (int64, error)
	Transition(ctx context.Context, ids []string, from, to model.Status) (int64, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Finish(ctx context.Context, id string, outcome Outcome) error
	ResetDeadLetters(ctx context.Context, limit, maxAttempts int) ([]string, error)
	ReclaimStale(ctx context.Context, claimedBefore time.Time, limit int) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Outcome is the terminal result of one delivery pass over a record.
type Outcome struct {
	Status       model.Status
	AttemptCount int
	AttemptedAt  time.Time
	NextRetryAt  *time.Time
	ErrorMessage string
}

var _ WebhookInterface = (*WebhookRepository)(nil)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// FetchActive returns the records among ids that are still pending or verifying.
func (r *WebhookRepository) FetchActive(ctx context.Context, ids []string) ([]model.WebhookRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []model.WebhookRecord
	err := r.db.WithContext(ctx).
		Where("id IN ? AND status IN ?", ids, model.DeliverableStatuses).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *WebhookRepository) FindAutoTriggerCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.WebhookRecord{}).
		Where("status = ? AND trigger_mode = ? AND expires_at >= ?", model.StatusVerifying, model.TriggerAuto, now).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// PromoteToPending moves every still-verifying id to pending in a single statement.
func (r *WebhookRepository) PromoteToPending(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&model.WebhookRecord{}).
		Where("id IN ? AND status = ?", ids, model.StatusVerifying).
		Update("status", model.StatusPending)
	return res.RowsAffected, res.Error
}

// Transition moves the ids still in status from to status to. It is used to
// roll back a status change whose follow-up enqueue failed.
func (r *WebhookRepository) Transition(ctx context.Context, ids []string, from, to model.Status) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&model.WebhookRecord{}).
		Where("id IN ? AND status = ?", ids, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

// Claim marks a deliverable record as delivering. It reports false when
// another worker already moved the record on.
func (r *WebhookRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.WebhookRecord{}).
		Where("id = ? AND status IN ?", id, model.DeliverableStatuses).
		Updates(map[string]any{
			"status":          model.StatusDelivering,
			"last_attempt_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *WebhookRepository) Finish(ctx context.Context, id string, outcome Outcome) error {
	return r.db.WithContext(ctx).Model(&model.WebhookRecord{}).
		Where("id = ? AND status = ?", id, model.StatusDelivering).
		Updates(map[string]any{
			"status":          outcome.Status,
			"attempt_count":   outcome.AttemptCount,
			"last_attempt_at": outcome.AttemptedAt,
			"next_retry_at":   outcome.NextRetryAt,
			"error_message":   outcome.ErrorMessage,
		}).Error
}

// ResetDeadLetters moves up to limit dead-lettered records back to pending
// and returns their ids. Rows locked by a concurrent reset are skipped.
func (r *WebhookRepository) ResetDeadLetters(ctx context.Context, limit, maxAttempts int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.WebhookRecord{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.StatusDeadLetter)
		if maxAttempts > 0 {
			q = q.Where("attempt_count < ?", maxAttempts)
		}
		if err := q.Order("last_attempt_at ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&model.WebhookRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":        model.StatusPending,
				"next_retry_at": nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReclaimStale returns up to limit records stuck in delivering since before
// claimedBefore to pending and reports their ids.
func (r *WebhookRepository) ReclaimStale(ctx context.Context, claimedBefore time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.WebhookRecord{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND last_attempt_at < ?", model.StatusDelivering, claimedBefore).
			Order("last_attempt_at ASC").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}
		return tx.Model(&model.WebhookRecord{}).
			Where("id IN ? AND status = ?", ids, model.StatusDelivering).
			Update("status", model.StatusPending).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpired purges expired records that are not mid-delivery.
func (r *WebhookRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? AND status <> ?", now, model.StatusDelivering).
		Delete(&model.WebhookRecord{})
	return res.RowsAffected, res.Error
}

// Ping runs a cheap existence query against the records table.
func (r *WebhookRepository) Ping(ctx context.Context) error {
	var ids []string
	return r.db.WithContext(ctx).Model(&model.WebhookRecord{}).Limit(1).Pluck("id", &ids).Error
}
