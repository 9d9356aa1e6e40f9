package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/crewdesk/crewdesk/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// smsMaxRunes is the provider body limit for a single SMS submission.
const smsMaxRunes = 1600

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders notification payloads into per-channel messages.
type Renderer struct {
	templates map[domain.Channel]*template.Template
}

// NewRenderer creates a renderer and loads all channel templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title": titleCase,
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	r := &Renderer{templates: make(map[domain.Channel]*template.Template)}

	for _, channel := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS} {
		filename := fmt.Sprintf("templates/%s.tmpl", channel)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(channel)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", filename, err)
		}

		r.templates[channel] = tmpl
	}

	return r, nil
}

// Render renders a payload for the given channel. Returns subject and
// body; subject is empty for SMS.
func (r *Renderer) Render(channel domain.Channel, payload domain.NotificationPayload) (subject, body string, err error) {
	tmpl, ok := r.templates[channel]
	if !ok {
		return "", "", fmt.Errorf("no template for channel: %s", channel)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", channel, err)
	}
	body = strings.TrimSpace(buf.String())

	switch channel {
	case domain.ChannelEmail:
		subject = r.renderSubject(payload)
	case domain.ChannelSMS:
		body = truncateRunes(body, smsMaxRunes)
	}

	return subject, body, nil
}

// renderSubject builds the email subject line.
func (r *Renderer) renderSubject(payload domain.NotificationPayload) string {
	return fmt.Sprintf("[%s] %s", titleCase(payload.Category), payload.Title)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}
