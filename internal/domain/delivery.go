package domain

import "time"

// DeliveryStatus is the state of one per-channel delivery attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryLogEntry is one durable audit row per (notification, channel)
// attempt. Retries append new rows; existing rows only ever move
// pending -> sent or pending -> failed.
type DeliveryLogEntry struct {
	ID                string         `json:"id"`
	NotificationID    string         `json:"notification_id"`
	UserID            string         `json:"user_id"`
	Channel           Channel        `json:"channel"`
	Attempt           int            `json:"attempt"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
