package notifications

import (
	"context"

	"github.com/crewdesk/crewdesk/internal/domain"
)

// Message is a rendered notification ready for a single transport.
// To holds the channel-specific address: an email address, an E.164
// phone number, or a user ID for push fan-out.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Receipt is the transport's acknowledgement of an accepted message.
type Receipt struct {
	ProviderMessageID string
}

// Transport delivers rendered messages over one channel.
type Transport interface {
	Kind() domain.Channel
	Send(ctx context.Context, msg Message) (Receipt, error)
}
