package notifications

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrQueueItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
	{Error: ErrMissingRecipient, Status: http.StatusBadRequest, Message: "a user_id or recipient_phone is required"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service    *Service
	engine     *Engine
	authorizer *RunAuthorizer
	validator  *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service, engine *Engine, authorizer *RunAuthorizer) *Handler {
	return &Handler{
		service:    service,
		engine:     engine,
		authorizer: authorizer,
		validator:  validator.New(),
	}
}

// RegisterRoutes registers the queue trigger and enqueue routes. The
// run trigger carries its own credential check; enqueue expects the
// caller to already be authenticated.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notifications/queue/run", h.RunQueue)
	r.Post("/notifications", h.EnqueueNotification)
}

// RegisterAdminRoutes registers routes that require the admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/notifications/deliveries", h.ListDeliveries)
	r.Post("/notifications/deliveries/retry", h.RetryDelivery)
	r.Post("/notifications/retry-failed", h.RetryAllFailed)
	r.Get("/notifications/queue/stats", h.QueueStats)
}

// RunQueueRequest represents the optional request body of a queue run.
type RunQueueRequest struct {
	MaxBatch int `json:"max_batch" validate:"omitempty,min=1,max=100"`
}

// EnqueueRequest represents request body for enqueuing a notification.
type EnqueueRequest struct {
	UserID         string              `json:"user_id"`
	TripID         string              `json:"trip_id"`
	RecipientPhone string              `json:"recipient_phone"`
	RecipientType  string              `json:"recipient_type" validate:"omitempty,oneof=client driver admin"`
	Type           string              `json:"type"`
	Title          string              `json:"title"`
	Body           string              `json:"body"`
	TemplateKey    string              `json:"template_key"`
	TemplateVars   domain.TemplateVars `json:"template_vars"`
	DayNumber      int                 `json:"day_number" validate:"omitempty,min=1"`
	ScheduledFor   *time.Time          `json:"scheduled_for"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// RetryDeliveryRequest represents request body for retrying one item.
type RetryDeliveryRequest struct {
	QueueID string `json:"queue_id" validate:"required,uuid"`
}

// RunQueue handles POST /notifications/queue/run.
func (h *Handler) RunQueue(w http.ResponseWriter, r *http.Request) {
	mode, err := h.authorizer.Authorize(r)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RunQueueRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httputil.ValidationError(w, err)
			return
		}
	}

	slog.Info("queue run triggered", "auth_mode", mode, "max_batch", req.MaxBatch)

	stats, err := h.engine.RunOnce(r.Context(), req.MaxBatch)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// EnqueueNotification handles POST /notifications.
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

	input := EnqueueInput{
		UserID:         req.UserID,
		TripID:         req.TripID,
		RecipientPhone: req.RecipientPhone,
		RecipientType:  domain.RecipientType(req.RecipientType),
		Type:           req.Type,
		IdempotencyKey: req.IdempotencyKey,
		Payload: domain.Payload{
			Title:        req.Title,
			Body:         req.Body,
			TemplateKey:  req.TemplateKey,
			TemplateVars: req.TemplateVars,
			DayNumber:    req.DayNumber,
		},
	}
	if req.ScheduledFor != nil {
		input.ScheduledFor = *req.ScheduledFor
	}

	result, err := h.service.Enqueue(r.Context(), input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httputil.Success(w, status, map[string]any{
		"id":        result.ID,
		"duplicate": result.Duplicate,
	})
}

// ListDeliveries handles GET /notifications/deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := DeliveryFilter{
		OrganizationID: query.Get("organization_id"),
		Channel:        domain.Channel(query.Get("channel")),
		Status:         domain.DeliveryState(query.Get("status")),
		TripID:         query.Get("trip_id"),
		FailedOnly:     query.Get("failed_only") == "true",
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	page, err := h.service.ListDeliveries(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"deliveries": page.Rows,
		"total":      page.Total,
		"limit":      page.Limit,
		"offset":     page.Offset,
		"counts":     page.CountsByStatus,
	})
}

// RetryDelivery handles POST /notifications/deliveries/retry.
func (h *Handler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	var req RetryDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	retried, err := h.service.RetryOne(r.Context(), req.QueueID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"queue_id": req.QueueID,
		"retried":  retried,
	})
}

// RetryAllFailed handles POST /notifications/retry-failed.
func (h *Handler) RetryAllFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.RetryAllFailed(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{"retried": count})
}

// QueueStats handles GET /notifications/queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	RecordQueueStats(stats)
	httputil.Success(w, http.StatusOK, stats)
}
