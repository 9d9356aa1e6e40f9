// Package push publishes in-app notifications to the realtime fan-out
// layer over redis pub/sub. Delivery past the broker is someone else's
// job; from the queue's point of view push always succeeds.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "crewdesk:notifications"

// Config holds push broadcaster configuration.
type Config struct {
	// ChannelPrefix is the redis pub/sub channel prefix; the user ID is
	// appended per message.
	ChannelPrefix string
}

// Broadcaster publishes notifications to per-user redis channels.
type Broadcaster struct {
	client redis.UniversalClient
	prefix string
}

// NewBroadcaster creates a push broadcaster over an established redis
// client.
func NewBroadcaster(client redis.UniversalClient, config Config) *Broadcaster {
	prefix := config.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}

	slog.Info("push broadcaster configured", "channel_prefix", prefix)

	return &Broadcaster{client: client, prefix: prefix}
}

// Kind returns the channel this transport serves.
func (b *Broadcaster) Kind() domain.Channel {
	return domain.ChannelPush
}

type pushEvent struct {
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}

// Send publishes one notification. msg.To carries the user ID. Callers
// treat publish errors as best-effort observations, not failures.
func (b *Broadcaster) Send(ctx context.Context, msg notifications.Message) (notifications.Receipt, error) {
	event, err := json.Marshal(pushEvent{
		UserID:      msg.To,
		Title:       msg.Subject,
		Body:        msg.Body,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("marshal push event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", b.prefix, msg.To)
	if err := b.client.Publish(ctx, channel, event).Err(); err != nil {
		return notifications.Receipt{}, fmt.Errorf("publish to %s: %w", channel, err)
	}

	return notifications.Receipt{}, nil
}
