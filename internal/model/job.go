package model

// JobRef is the queue entry pointing at a WebhookRecord.
type JobRef struct {
	ID string `json:"id"`
}
