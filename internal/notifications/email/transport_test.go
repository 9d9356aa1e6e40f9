package email

import (
	"strings"
	"testing"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(Config{FromAddress: "noreply@example.com"})
	assert.Error(t, err, "SMTP host required")

	_, err = NewTransport(Config{SMTPHost: "smtp.example.com"})
	assert.Error(t, err, "from address required")

	tr, err := NewTransport(Config{
		SMTPHost:    "smtp.example.com",
		FromAddress: "noreply@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 587, tr.config.SMTPPort)
	assert.Equal(t, domain.ChannelEmail, tr.Kind())
}

func TestTransport_BuildMessage(t *testing.T) {
	tr, err := NewTransport(Config{
		SMTPHost:    "smtp.example.com",
		FromAddress: "CrewDesk <noreply@example.com>",
	})
	require.NoError(t, err)

	msg := tr.buildMessage("<abc@example.com>", notifications.Message{
		To:      "user@example.com",
		Subject: "[Billing] Invoice due",
		Body:    "Your invoice is due",
	})

	raw := string(msg)
	assert.True(t, strings.HasPrefix(raw, "From: CrewDesk <noreply@example.com>\r\n"))
	assert.Contains(t, raw, "To: user@example.com\r\n")
	assert.Contains(t, raw, "Subject: [Billing] Invoice due\r\n")
	assert.Contains(t, raw, "Message-ID: <abc@example.com>\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nYour invoice is due"))
}

func TestTransport_NewMessageID(t *testing.T) {
	tr, err := NewTransport(Config{
		SMTPHost:    "smtp.example.com",
		FromAddress: "CrewDesk <noreply@example.com>",
	})
	require.NoError(t, err)

	id := tr.newMessageID()
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	assert.NotEqual(t, id, tr.newMessageID())
}

func TestExtractEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", extractEmail("Name <a@b.com>"))
	assert.Equal(t, "a@b.com", extractEmail("a@b.com"))
}
