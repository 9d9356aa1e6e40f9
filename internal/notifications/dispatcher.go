package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/google/uuid"
)

// Dispatcher turns one claimed queue entry into per-channel delivery
// attempts and a single job-level outcome.
type Dispatcher struct {
	contacts    ContactResolver
	preferences PreferenceResolver
	deliveryLog DeliveryLog
	renderer    *Renderer
	transports  map[domain.Channel]Transport
}

// NewDispatcher creates a dispatcher with the given transports.
func NewDispatcher(contacts ContactResolver, preferences PreferenceResolver, deliveryLog DeliveryLog, renderer *Renderer, transports ...Transport) *Dispatcher {
	transportMap := make(map[domain.Channel]Transport)
	for _, t := range transports {
		transportMap[t.Kind()] = t
	}
	return &Dispatcher{
		contacts:    contacts,
		preferences: preferences,
		deliveryLog: deliveryLog,
		renderer:    renderer,
		transports:  transportMap,
	}
}

// Dispatch processes one claimed entry. The returned error is the
// job-level outcome fed to queue.Ack: nil means every requested channel
// was attempted. Per-channel transport failures are recorded in the
// delivery log and never fail the job; only resolver or delivery-log
// infrastructure errors do, since those prevent any channel from being
// attempted correctly.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *queue.Entry) error {
	job := entry.Job

	contact, err := d.contacts.GetContact(ctx, job.UserID)
	if errors.Is(err, ErrContactNotFound) {
		// Retrying will not conjure up the user.
		slog.Warn("recipient not found, skipping notification",
			"notification_id", job.NotificationID,
			"user_id", job.UserID,
		)
		recordDelivery("all", "skipped_no_recipient")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve contact %s: %w", job.UserID, err)
	}

	prefs, err := d.preferences.GetPreferences(ctx, job.UserID, job.Payload.Category)
	if errors.Is(err, ErrPreferencesNotFound) {
		slog.Warn("no preference record, defaulting all channels enabled",
			"user_id", job.UserID,
			"category", job.Payload.Category,
		)
		prefs = nil
	} else if err != nil {
		return fmt.Errorf("resolve preferences %s/%s: %w", job.UserID, job.Payload.Category, err)
	}

	for _, channel := range job.Channels {
		if err := d.attemptChannel(ctx, entry, contact, prefs, channel); err != nil {
			return err
		}
	}

	return nil
}

// attemptChannel runs the delivery attempt for one channel. Only
// delivery-log write failures propagate.
func (d *Dispatcher) attemptChannel(ctx context.Context, entry *queue.Entry, contact *domain.Contact, prefs domain.PreferenceSet, channel domain.Channel) error {
	job := entry.Job

	if !prefs.Enabled(channel) {
		slog.Debug("channel disabled by preference",
			"notification_id", job.NotificationID,
			"channel", channel,
		)
		recordDelivery(string(channel), "skipped_preference")
		return nil
	}

	if channel == domain.ChannelPush {
		d.broadcastPush(ctx, job)
		return nil
	}

	if missing := missingContact(channel, contact); missing {
		if err := d.createLogEntry(ctx, job, channel, entry.Attempt, domain.DeliveryFailed, "", "missing contact info"); err != nil {
			return err
		}
		recordDelivery(string(channel), "failed_missing_contact")
		return nil
	}

	transport, ok := d.transports[channel]
	if !ok {
		if err := d.createLogEntry(ctx, job, channel, entry.Attempt, domain.DeliveryFailed, "", fmt.Sprintf("no transport for channel %s", channel)); err != nil {
			return err
		}
		recordDelivery(string(channel), "failed_no_transport")
		return nil
	}

	subject, body, err := d.renderer.Render(channel, job.Payload)
	if err != nil {
		if logErr := d.createLogEntry(ctx, job, channel, entry.Attempt, domain.DeliveryFailed, "", fmt.Sprintf("render: %v", err)); logErr != nil {
			return logErr
		}
		recordDelivery(string(channel), "failed_render")
		return nil
	}

	logID := uuid.New().String()
	logEntry := &domain.DeliveryLogEntry{
		ID:             logID,
		NotificationID: job.NotificationID,
		UserID:         job.UserID,
		Channel:        channel,
		Attempt:        entry.Attempt,
		Status:         domain.DeliveryPending,
	}
	if err := d.deliveryLog.Create(ctx, logEntry); err != nil {
		return fmt.Errorf("create delivery log entry: %w", err)
	}

	msg := Message{To: addressFor(channel, contact), Subject: subject, Body: body}

	start := time.Now()
	receipt, sendErr := transport.Send(ctx, msg)
	recordDeliveryDuration(string(channel), time.Since(start))

	if sendErr != nil {
		if err := d.deliveryLog.UpdateStatus(ctx, logID, domain.DeliveryFailed, "", sendErr.Error()); err != nil {
			slog.Error("failed to record delivery failure",
				"delivery_id", logID,
				"channel", channel,
				"error", err,
			)
		}
		recordDelivery(string(channel), "failed")
		slog.Warn("channel delivery failed",
			"notification_id", job.NotificationID,
			"channel", channel,
			"attempt", entry.Attempt,
			"error", sendErr,
		)
		return nil
	}

	// A crash between the transport call above and this update re-sends
	// the channel message on retry. Accepted at-least-once window; the
	// attempt number on each row makes duplicates visible to operators.
	if err := d.deliveryLog.UpdateStatus(ctx, logID, domain.DeliverySent, receipt.ProviderMessageID, ""); err != nil {
		slog.Error("delivery sent but status update failed",
			"delivery_id", logID,
			"channel", channel,
			"provider_message_id", receipt.ProviderMessageID,
			"error", err,
		)
	}
	recordDelivery(string(channel), "sent")
	return nil
}

// broadcastPush hands the payload to the realtime fan-out transport.
// Push is best-effort: it always counts as delivered, produces no
// delivery log row, and errors surface only in logs.
func (d *Dispatcher) broadcastPush(ctx context.Context, job domain.NotificationJob) {
	transport, ok := d.transports[domain.ChannelPush]
	if !ok {
		slog.Debug("push transport not configured, skipping",
			"notification_id", job.NotificationID,
		)
		recordDelivery(string(domain.ChannelPush), "skipped_disabled")
		return
	}

	body := job.Payload.Message
	if job.Payload.ShortMessage != "" {
		body = job.Payload.ShortMessage
	}
	msg := Message{To: job.UserID, Subject: job.Payload.Title, Body: body}

	if _, err := transport.Send(ctx, msg); err != nil {
		slog.Error("push broadcast failed",
			"notification_id", job.NotificationID,
			"user_id", job.UserID,
			"error", err,
		)
	}
	recordDelivery(string(domain.ChannelPush), "sent")
}

func (d *Dispatcher) createLogEntry(ctx context.Context, job domain.NotificationJob, channel domain.Channel, attempt int, status domain.DeliveryStatus, providerMessageID, errorMessage string) error {
	entry := &domain.DeliveryLogEntry{
		ID:                uuid.New().String(),
		NotificationID:    job.NotificationID,
		UserID:            job.UserID,
		Channel:           channel,
		Attempt:           attempt,
		Status:            status,
		ProviderMessageID: providerMessageID,
		ErrorMessage:      errorMessage,
	}
	if err := d.deliveryLog.Create(ctx, entry); err != nil {
		return fmt.Errorf("create delivery log entry: %w", err)
	}
	return nil
}

// missingContact reports whether the recipient lacks the contact data
// the channel addresses.
func missingContact(channel domain.Channel, contact *domain.Contact) bool {
	switch channel {
	case domain.ChannelEmail:
		return contact.Email == ""
	case domain.ChannelSMS:
		return contact.Phone == ""
	default:
		return false
	}
}

func addressFor(channel domain.Channel, contact *domain.Contact) string {
	switch channel {
	case domain.ChannelEmail:
		return contact.Email
	case domain.ChannelSMS:
		return contact.Phone
	default:
		return contact.UserID
	}
}
