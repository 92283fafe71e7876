package trips

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/notifications"
)

// stageTemplates maps a trip lifecycle stage to the notification
// template announcing it. Stages without an entry are silent.
var stageTemplates = map[domain.TripStatus]notifications.TemplateKey{
	domain.TripStatusLead:             notifications.TemplateLifecycleLead,
	domain.TripStatusProspect:         notifications.TemplateLifecycleProspect,
	domain.TripStatusProposal:         notifications.TemplateLifecycleProposal,
	domain.TripStatusPaymentPending:   notifications.TemplateLifecyclePaymentPending,
	domain.TripStatusPaymentConfirmed: notifications.TemplateLifecyclePaymentConfirmed,
	domain.TripStatusActive:           notifications.TemplateLifecycleActive,
	domain.TripStatusReview:           notifications.TemplateLifecycleReview,
	domain.TripStatusPast:             notifications.TemplateLifecyclePast,
}

// Enqueuer is the notification producer contract the trips service
// needs. Satisfied by notifications.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, input notifications.EnqueueInput) (notifications.EnqueueResult, error)
}

// Service exposes trip operations: CRUD, lifecycle transitions with
// client notifications, and device registration.
type Service struct {
	repo     Repository
	enqueuer Enqueuer
}

// NewService creates a trips service. enqueuer may be nil, in which
// case lifecycle changes are silent.
func NewService(repo Repository, enqueuer Enqueuer) *Service {
	return &Service{repo: repo, enqueuer: enqueuer}
}

// CreateTrip creates a trip in the lead stage.
func (s *Service) CreateTrip(ctx context.Context, trip *domain.Trip) error {
	if trip.Status == "" {
		trip.Status = domain.TripStatusLead
	}
	if err := s.repo.CreateTrip(ctx, trip); err != nil {
		return fmt.Errorf("create trip: %w", err)
	}
	return nil
}

// GetTrip fetches one trip by id.
func (s *Service) GetTrip(ctx context.Context, id string) (*domain.Trip, error) {
	return s.repo.GetTripByID(ctx, id)
}

// ListTrips returns trips matching the filter.
func (s *Service) ListTrips(ctx context.Context, filter TripFilter) ([]domain.Trip, error) {
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListTrips(ctx, filter)
}

// ChangeStage moves a trip to a new lifecycle stage and enqueues the
// stage notification for the client. The enqueue is idempotent per
// (client, from, to, transition time), so re-running a stuck transition
// cannot double-notify.
func (s *Service) ChangeStage(ctx context.Context, tripID string, to domain.TripStatus) error {
	trip, err := s.repo.GetTripByID(ctx, tripID)
	if err != nil {
		return err
	}
	if trip.Status == to {
		return nil
	}

	from := trip.Status
	if err := s.repo.UpdateTripStatus(ctx, tripID, to); err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}

	slog.Info("trip stage changed", "trip_id", tripID, "from", from, "to", to)

	if s.enqueuer == nil || trip.ClientID == "" {
		return nil
	}
	templateKey, ok := stageTemplates[to]
	if !ok {
		return nil
	}

	profile, err := s.repo.GetProfileByID(ctx, trip.ClientID)
	if err != nil {
		// The stage change already happened; notification is best effort.
		slog.Warn("client profile lookup failed, skipping stage notification",
			"trip_id", tripID, "client_id", trip.ClientID, "error", err)
		return nil
	}

	now := time.Now()
	_, err = s.enqueuer.Enqueue(ctx, notifications.EnqueueInput{
		UserID:         trip.ClientID,
		TripID:         trip.ID,
		RecipientPhone: profile.Phone,
		RecipientType:  domain.RecipientClient,
		Type:           "lifecycle_" + string(to),
		IdempotencyKey: notifications.LifecycleIdempotencyKey(trip.ClientID, string(from), string(to), now),
		Payload: domain.Payload{
			TemplateKey: string(templateKey),
			TemplateVars: domain.TemplateVars{
				ClientName:  profile.FullName,
				Destination: trip.Destination,
				TripTitle:   trip.Title,
			},
		},
		ScheduledFor: now,
	})
	if err != nil {
		slog.Warn("stage notification enqueue failed",
			"trip_id", tripID, "to", to, "error", err)
	}
	return nil
}

// RegisterDevice registers or refreshes a push token for a user.
func (s *Service) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	if platform == "" {
		platform = "unknown"
	}
	if err := s.repo.UpsertPushToken(ctx, &domain.PushToken{
		UserID:   userID,
		Token:    token,
		Platform: platform,
		IsActive: true,
	}); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// UnregisterDevice removes a push token for a user.
func (s *Service) UnregisterDevice(ctx context.Context, userID, token string) error {
	if err := s.repo.RemovePushToken(ctx, userID, token); err != nil {
		return fmt.Errorf("unregister device: %w", err)
	}
	return nil
}

// ListLocationShares returns every share minted for a trip.
func (s *Service) ListLocationShares(ctx context.Context, tripID string) ([]domain.LocationShare, error) {
	return s.repo.ListLocationShares(ctx, tripID)
}

// RevokeLocationShare deactivates a share token.
func (s *Service) RevokeLocationShare(ctx context.Context, shareToken string) error {
	return s.repo.DeactivateLocationShare(ctx, shareToken)
}
