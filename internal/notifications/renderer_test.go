package notifications

import (
	"strings"
	"testing"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Email(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	payload := domain.NotificationPayload{
		Category:  "billing",
		Title:     "Invoice due",
		Message:   "Your invoice is due on Friday.",
		Priority:  domain.PriorityHigh,
		ActionURL: "https://app.example.com/invoices/42",
	}

	subject, body, err := r.Render(domain.ChannelEmail, payload)
	require.NoError(t, err)

	assert.Equal(t, "[Billing] Invoice due", subject)
	assert.Contains(t, body, "Your invoice is due on Friday.")
	assert.Contains(t, body, "https://app.example.com/invoices/42")
}

func TestRenderer_Email_NoActionURL(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(domain.ChannelEmail, domain.NotificationPayload{
		Category: "jobs",
		Title:    "Job assigned",
		Message:  "You have been assigned to job #7.",
		Priority: domain.PriorityMedium,
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "View details")
}

func TestRenderer_SMS_PrefersShortMessage(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(domain.ChannelSMS, domain.NotificationPayload{
		Category:     "billing",
		Title:        "Invoice due",
		Message:      "Your invoice is due on Friday. Please review the attached details.",
		ShortMessage: "Invoice due Friday",
		Priority:     domain.PriorityHigh,
	})
	require.NoError(t, err)

	assert.Empty(t, subject)
	assert.Equal(t, "Invoice due Friday", body)
}

func TestRenderer_SMS_FallsBackToMessage(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(domain.ChannelSMS, domain.NotificationPayload{
		Category: "billing",
		Title:    "Invoice due",
		Message:  "Your invoice is due on Friday.",
		Priority: domain.PriorityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, "Your invoice is due on Friday.", body)
}

func TestRenderer_SMS_TruncatesBody(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(domain.ChannelSMS, domain.NotificationPayload{
		Category: "billing",
		Title:    "Invoice due",
		Message:  strings.Repeat("x", 2000),
		Priority: domain.PriorityLow,
	})
	require.NoError(t, err)
	assert.Len(t, []rune(body), 1600)
}

func TestRenderer_UnknownChannel(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.Render(domain.ChannelPush, domain.NotificationPayload{})
	assert.Error(t, err)
}
