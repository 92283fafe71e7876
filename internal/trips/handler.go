package trips

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrTripNotFound, Status: http.StatusNotFound, Message: "trip not found"},
	{Error: ErrProfileNotFound, Status: http.StatusNotFound, Message: "profile not found"},
	{Error: ErrShareNotFound, Status: http.StatusNotFound, Message: "location share not found"},
}

// Handler handles HTTP requests for the trips module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new trips handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated trip routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trips", func(r chi.Router) {
		r.Get("/", h.ListTrips)
		r.Get("/{id}", h.GetTrip)
		r.Get("/{id}/shares", h.ListLocationShares)
	})

	r.Post("/me/devices", h.RegisterDevice)
	r.Delete("/me/devices", h.UnregisterDevice)
}

// RegisterAdminRoutes registers routes that require the admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/trips", h.CreateTrip)
	r.Post("/trips/{id}/stage", h.ChangeStage)
	r.Delete("/trips/shares/{token}", h.RevokeLocationShare)
}

// CreateTripRequest represents request body for creating a trip.
type CreateTripRequest struct {
	OrganizationID string `json:"organization_id" validate:"omitempty,uuid"`
	ClientID       string `json:"client_id" validate:"omitempty,uuid"`
	Title          string `json:"title" validate:"required"`
	Destination    string `json:"destination" validate:"required"`
}

// ChangeStageRequest represents request body for a lifecycle change.
type ChangeStageRequest struct {
	Stage string `json:"stage" validate:"required,oneof=lead prospect proposal payment_pending payment_confirmed active review past"`
}

// RegisterDeviceRequest represents request body for a device token.
type RegisterDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web unknown"`
}

// CreateTrip handles POST /trips.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req CreateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	trip := &domain.Trip{
		OrganizationID: req.OrganizationID,
		ClientID:       req.ClientID,
		Title:          req.Title,
		Destination:    req.Destination,
	}
	if err := h.service.CreateTrip(r.Context(), trip); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, trip)
}

// GetTrip handles GET /trips/{id}.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.service.GetTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, trip)
}

// ListTrips handles GET /trips.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := TripFilter{
		OrganizationID: query.Get("organization_id"),
		ClientID:       query.Get("client_id"),
		Status:         domain.TripStatus(query.Get("status")),
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	result, err := h.service.ListTrips(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// ChangeStage handles POST /trips/{id}/stage.
func (h *Handler) ChangeStage(w http.ResponseWriter, r *http.Request) {
	var req ChangeStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	tripID := chi.URLParam(r, "id")
	if err := h.service.ChangeStage(r.Context(), tripID, domain.TripStatus(req.Stage)); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{
		"trip_id": tripID,
		"stage":   req.Stage,
	})
}

// RegisterDevice handles POST /me/devices.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.RegisterDevice(r.Context(), userID, req.Token, req.Platform); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// UnregisterDevice handles DELETE /me/devices.
func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.service.UnregisterDevice(r.Context(), userID, req.Token); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// ListLocationShares handles GET /trips/{id}/shares.
func (h *Handler) ListLocationShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.service.ListLocationShares(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, shares)
}

// RevokeLocationShare handles DELETE /trips/shares/{token}.
func (h *Handler) RevokeLocationShare(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeLocationShare(r.Context(), chi.URLParam(r, "token")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "revoked"})
}
