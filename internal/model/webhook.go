package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusVerifying  Status = "verifying"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// DeliverableStatuses are the only statuses a record may be handed to the processor in.
var DeliverableStatuses = []Status{StatusPending, StatusVerifying}

func (s Status) Deliverable() bool {
	return s == StatusPending || s == StatusVerifying
}

type TriggerMode string

const (
	TriggerManual TriggerMode = "manual"
	TriggerAuto   TriggerMode = "auto"
)

// WebhookRecord is the durable row describing one upload-completed notification.
type WebhookRecord struct {
	ID            string      `json:"id" gorm:"primaryKey;size:64"`
	Provider      string      `json:"provider" gorm:"size:32"`
	Filename      string      `json:"filename" gorm:"size:512"`
	WebhookURL    string      `json:"webhook_url" gorm:"column:webhook_url;type:text"`
	TriggerMode   TriggerMode `json:"trigger_mode" gorm:"size:16;default:manual;index:idx_webhook_auto,priority:2"`
	Status        Status      `json:"status" gorm:"size:16;default:pending;index;index:idx_webhook_auto,priority:1"`
	CreatedAt     time.Time   `json:"created_at"`
	ExpiresAt     time.Time   `json:"expires_at" gorm:"index"`
	AttemptCount  int         `json:"attempt_count" gorm:"default:0"`
	LastAttemptAt *time.Time  `json:"last_attempt_at"`
	NextRetryAt   *time.Time  `json:"next_retry_at"`
	ErrorMessage  string      `json:"error_message" gorm:"type:text"`
}

func (WebhookRecord) TableName() string {
	return "webhook_records"
}

// AutoTriggerEligible reports whether the record would be selected for
// promotion at now: verifying, auto mode and expiring no earlier than now.
func (r WebhookRecord) AutoTriggerEligible(now time.Time) bool {
	return r.Status == StatusVerifying && r.TriggerMode == TriggerAuto && !r.ExpiresAt.Before(now)
}
