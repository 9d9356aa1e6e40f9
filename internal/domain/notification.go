// Package domain contains the core types shared across the notification
// delivery subsystem.
package domain

// Channel is a delivery medium for a notification.
type Channel string

// Supported channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Valid reports whether the channel is one of the supported set.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Priority classifies how urgently a notification should be delivered.
type Priority string

// Priorities, highest first.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight maps a priority to its queue ordering weight.
// Lower weight is served first; unknown priorities sort last.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// NotificationPayload is the renderable content of a notification.
type NotificationPayload struct {
	Category     string   `json:"category" validate:"required"`
	Title        string   `json:"title"`
	Message      string   `json:"message" validate:"required"`
	ShortMessage string   `json:"short_message,omitempty"`
	Priority     Priority `json:"priority" validate:"required,oneof=low medium high"`
	ActionURL    string   `json:"action_url,omitempty" validate:"omitempty,url"`
}

// NotificationJob is one unit of notification work submitted to the queue.
// NotificationID doubles as the admission dedup key.
type NotificationJob struct {
	NotificationID string              `json:"notification_id" validate:"required"`
	UserID         string              `json:"user_id" validate:"required"`
	Channels       []Channel           `json:"channels" validate:"required,min=1,dive,oneof=email sms push"`
	Payload        NotificationPayload `json:"payload"`
}
