// Package sms provides an SMS transport over an HTTP JSON provider API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 10 // messages per second

	// maxBodyRunes is the provider limit for one message submission.
	maxBodyRunes = 1600
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Config holds SMS transport configuration.
type Config struct {
	APIURL    string
	APIKey    string
	From      string
	RateLimit float64 // messages per second towards the provider
	Timeout   time.Duration
}

// Transport delivers SMS through the provider's HTTP API, paced by a
// client-side rate limiter.
type Transport struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTransport creates an SMS transport.
func NewTransport(config Config) (*Transport, error) {
	if config.APIURL == "" {
		return nil, errors.New("sms transport: API URL is required")
	}
	if config.From == "" {
		return nil, errors.New("sms transport: sender id is required")
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("sms transport configured",
		"api_url", config.APIURL,
		"from", config.From,
		"rate_limit", config.RateLimit,
	)

	return &Transport{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Kind returns the channel this transport serves.
func (t *Transport) Kind() domain.Channel {
	return domain.ChannelSMS
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	SID string `json:"sid"`
}

// Send submits one SMS. The destination must be E.164; the body must
// fit the provider's single-message limit.
func (t *Transport) Send(ctx context.Context, msg notifications.Message) (notifications.Receipt, error) {
	if !e164Pattern.MatchString(msg.To) {
		return notifications.Receipt{}, &PermanentError{Message: fmt.Sprintf("destination %q is not E.164", msg.To)}
	}
	if len([]rune(msg.Body)) > maxBodyRunes {
		return notifications.Receipt{}, &PermanentError{Message: fmt.Sprintf("body exceeds %d characters", maxBodyRunes)}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return notifications.Receipt{}, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		From: t.config.From,
		To:   msg.To,
		Body: msg.Body,
	})
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return notifications.Receipt{}, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return t.handleResponse(resp)
}

func (t *Transport) handleResponse(resp *http.Response) (notifications.Receipt, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out sendResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return notifications.Receipt{}, fmt.Errorf("decode response: %w", err)
		}
		slog.Debug("sms accepted by provider", "sid", out.SID)
		return notifications.Receipt{ProviderMessageID: out.SID}, nil

	case resp.StatusCode == http.StatusBadRequest:
		return notifications.Receipt{}, &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("rejected: %s", string(body)),
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return notifications.Receipt{}, &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or expired credentials",
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return notifications.Receipt{}, &RetryableError{
			Code:    resp.StatusCode,
			Message: "provider rate limited",
		}

	case resp.StatusCode >= 500:
		return notifications.Receipt{}, &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("provider error: %s", string(body)),
		}

	default:
		return notifications.Receipt{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// PermanentError indicates a rejection that retrying cannot fix.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms provider error: %s", e.Message)
}

// RetryableError indicates a temporary provider failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms provider error: %s", e.Message)
}
