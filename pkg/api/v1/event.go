package v1

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the JSON body POSTed to a webhook receiver.
type WebhookEvent struct {
	Event      string    `json:"event"`
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Filename   string    `json:"filename"`
	Attempt    int       `json:"attempt"`
	DeliveryID string    `json:"delivery_id"`
	SentAt     time.Time `json:"sent_at"`
}

func (e *WebhookEvent) ToJSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		panic("webhook event serialization failed: " + err.Error())
	}
	return b
}
