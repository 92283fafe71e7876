// Package trips manages trips, traveler profiles, device registrations
// and live-location shares. It is the producer side of the notification
// queue: trip lifecycle changes enqueue notifications.
package trips

import (
	"context"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// Repository defines the interface for trip data operations.
type Repository interface {
	CreateTrip(ctx context.Context, trip *domain.Trip) error
	GetTripByID(ctx context.Context, id string) (*domain.Trip, error)
	ListTrips(ctx context.Context, filter TripFilter) ([]domain.Trip, error)
	UpdateTripStatus(ctx context.Context, id string, status domain.TripStatus) error

	GetProfileByID(ctx context.Context, id string) (*domain.Profile, error)

	UpsertPushToken(ctx context.Context, token *domain.PushToken) error
	RemovePushToken(ctx context.Context, userID, token string) error

	ListLocationShares(ctx context.Context, tripID string) ([]domain.LocationShare, error)
	DeactivateLocationShare(ctx context.Context, shareToken string) error
}

// TripFilter represents filter criteria for listing trips.
type TripFilter struct {
	OrganizationID string
	ClientID       string
	Status         domain.TripStatus
	Limit          int
	Offset         int
}
