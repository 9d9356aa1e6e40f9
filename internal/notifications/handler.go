package notifications

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/crewdesk/crewdesk/internal/domain"
	"github.com/crewdesk/crewdesk/internal/pkg/httputil"
	"github.com/crewdesk/crewdesk/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: queue.ErrInvalidJob, Status: http.StatusBadRequest},
	{Error: ErrClosed, Status: http.StatusServiceUnavailable, Message: "service is shutting down"},
}

// Handler handles HTTP requests for the notification queue control API.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new queue control handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notifications", h.EnqueueNotification)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.QueueStats)
		r.Post("/retry-failed", h.RetryFailed)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/prune", h.Prune)
	})
}

// EnqueueRequest represents request body for enqueuing a notification.
type EnqueueRequest struct {
	NotificationID string                `json:"notification_id" validate:"required"`
	UserID         string                `json:"user_id" validate:"required"`
	Channels       []string              `json:"channels" validate:"required,min=1,dive,oneof=email sms push"`
	Payload        EnqueuePayloadRequest `json:"payload" validate:"required"`
}

// EnqueuePayloadRequest represents the notification payload body.
type EnqueuePayloadRequest struct {
	Category     string `json:"category" validate:"required"`
	Title        string `json:"title" validate:"required"`
	Message      string `json:"message" validate:"required"`
	ShortMessage string `json:"short_message"`
	Priority     string `json:"priority" validate:"required,oneof=low medium high"`
	ActionURL    string `json:"action_url" validate:"omitempty,url"`
}

// PruneRequest represents request body for pruning completed entries.
type PruneRequest struct {
	OlderThan string `json:"older_than" validate:"required"`
}

// EntryResponse is the admission result returned to callers.
type EntryResponse struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	State          string    `json:"state"`
	Priority       int       `json:"priority"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// EnqueueNotification handles POST /notifications. The caller gets an
// immediate accepted response; delivery outcomes are visible through
// queue stats and the delivery log only.
func (h *Handler) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	channels := make([]domain.Channel, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = domain.Channel(c)
	}

	job := domain.NotificationJob{
		NotificationID: req.NotificationID,
		UserID:         req.UserID,
		Channels:       channels,
		Payload: domain.NotificationPayload{
			Category:     req.Payload.Category,
			Title:        req.Payload.Title,
			Message:      req.Payload.Message,
			ShortMessage: req.Payload.ShortMessage,
			Priority:     domain.Priority(req.Payload.Priority),
			ActionURL:    req.Payload.ActionURL,
		},
	}

	entry, err := h.service.Enqueue(r.Context(), job)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, EntryResponse{
		ID:             entry.ID,
		NotificationID: entry.Job.NotificationID,
		State:          string(entry.State),
		Priority:       entry.Priority,
		Attempt:        entry.Attempt,
		EnqueuedAt:     entry.EnqueuedAt,
	})
}

// QueueStats handles GET /queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// RetryFailed handles POST /queue/retry-failed.
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.RetryFailed(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]int{"retried": count})
}

// Pause handles POST /queue/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "paused"})
}

// Resume handles POST /queue/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "running"})
}

// Prune handles POST /queue/prune.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	olderThan, err := time.ParseDuration(req.OlderThan)
	if err != nil || olderThan <= 0 {
		httputil.Error(w, http.StatusBadRequest, "older_than must be a positive duration")
		return
	}

	count, err := h.service.Prune(r.Context(), olderThan)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]int{"pruned": count})
}
