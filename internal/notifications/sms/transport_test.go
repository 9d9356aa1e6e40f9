package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *Transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr, err := NewTransport(Config{
		APIURL:    srv.URL,
		APIKey:    "test-key",
		From:      "CrewDesk",
		RateLimit: 1000,
	})
	require.NoError(t, err)
	return tr
}

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(Config{From: "CrewDesk"})
	assert.Error(t, err, "API URL required")

	_, err = NewTransport(Config{APIURL: "https://sms.example.com"})
	assert.Error(t, err, "sender id required")

	tr, err := NewTransport(Config{APIURL: "https://sms.example.com", From: "CrewDesk"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelSMS, tr.Kind())
}

func TestSend_Success(t *testing.T) {
	var got sendRequest
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(sendResponse{SID: "SM123"})
	})

	receipt, err := tr.Send(context.Background(), notifications.Message{
		To:   "+15551234567",
		Body: "Invoice due Friday",
	})
	require.NoError(t, err)

	assert.Equal(t, "SM123", receipt.ProviderMessageID)
	assert.Equal(t, "CrewDesk", got.From)
	assert.Equal(t, "+15551234567", got.To)
	assert.Equal(t, "Invoice due Friday", got.Body)
}

func TestSend_RejectsNonE164Destination(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid destination")
	})

	_, err := tr.Send(context.Background(), notifications.Message{To: "555-1234", Body: "hi"})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestSend_RejectsOversizedBody(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for oversized body")
	})

	_, err := tr.Send(context.Background(), notifications.Message{
		To:   "+15551234567",
		Body: strings.Repeat("x", 1601),
	})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
}

func TestSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"forbidden", http.StatusForbidden, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := tr.Send(context.Background(), notifications.Message{
				To:   "+15551234567",
				Body: "hi",
			})
			require.Error(t, err)

			var perm *PermanentError
			var retry *RetryableError
			if tt.permanent {
				assert.ErrorAs(t, err, &perm)
			} else {
				assert.ErrorAs(t, err, &retry)
			}
		})
	}
}
