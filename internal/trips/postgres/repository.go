// Package postgres provides the PostgreSQL implementation of the trips
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/trips"
)

// Repository implements trips.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTrip creates a new trip.
func (r *Repository) CreateTrip(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (organization_id, client_id, title, destination, status)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.QueryRow(ctx, query,
		trip.OrganizationID,
		trip.ClientID,
		trip.Title,
		trip.Destination,
		trip.Status,
	).Scan(&trip.ID, &trip.CreatedAt)
}

// GetTripByID retrieves a trip by ID.
func (r *Repository) GetTripByID(ctx context.Context, id string) (*domain.Trip, error) {
	query := `
		SELECT id, organization_id, client_id, title, destination, status, created_at
		FROM trips
		WHERE id = $1
	`
	var trip domain.Trip
	var orgID, clientID *string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&trip.ID,
		&orgID,
		&clientID,
		&trip.Title,
		&trip.Destination,
		&trip.Status,
		&trip.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trips.ErrTripNotFound
		}
		return nil, fmt.Errorf("get trip: %w", err)
	}

	if orgID != nil {
		trip.OrganizationID = *orgID
	}
	if clientID != nil {
		trip.ClientID = *clientID
	}
	return &trip, nil
}

// ListTrips retrieves trips matching the filter, newest first.
func (r *Repository) ListTrips(ctx context.Context, filter trips.TripFilter) ([]domain.Trip, error) {
	query := `
		SELECT id, organization_id, client_id, title, destination, status, created_at
		FROM trips
		WHERE ($1 = '' OR organization_id = $1::uuid)
		  AND ($2 = '' OR client_id = $2::uuid)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query,
		filter.OrganizationID,
		filter.ClientID,
		string(filter.Status),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Trip, 0)
	for rows.Next() {
		var trip domain.Trip
		var orgID, clientID *string
		err := rows.Scan(
			&trip.ID,
			&orgID,
			&clientID,
			&trip.Title,
			&trip.Destination,
			&trip.Status,
			&trip.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		if orgID != nil {
			trip.OrganizationID = *orgID
		}
		if clientID != nil {
			trip.ClientID = *clientID
		}
		result = append(result, trip)
	}
	return result, rows.Err()
}

// UpdateTripStatus moves a trip to a new lifecycle stage.
func (r *Repository) UpdateTripStatus(ctx context.Context, id string, status domain.TripStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE trips SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trips.ErrTripNotFound
	}
	return nil
}

// GetProfileByID retrieves a profile by ID.
func (r *Repository) GetProfileByID(ctx context.Context, id string) (*domain.Profile, error) {
	query := `
		SELECT id, organization_id, full_name, phone, role, created_at
		FROM profiles
		WHERE id = $1
	`
	var profile domain.Profile
	var orgID *string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&orgID,
		&profile.FullName,
		&profile.Phone,
		&profile.Role,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trips.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if orgID != nil {
		profile.OrganizationID = *orgID
	}
	return &profile, nil
}

// UpsertPushToken registers or reactivates a device token.
func (r *Repository) UpsertPushToken(ctx context.Context, token *domain.PushToken) error {
	query := `
		INSERT INTO push_tokens (user_id, token, platform, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    platform = EXCLUDED.platform,
		    is_active = TRUE,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		token.UserID,
		token.Token,
		token.Platform,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
}

// RemovePushToken deactivates a user's device token.
func (r *Repository) RemovePushToken(ctx context.Context, userID, token string) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE push_tokens SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND token = $2
	`, userID, token); err != nil {
		return fmt.Errorf("remove push token: %w", err)
	}
	return nil
}

// ListLocationShares retrieves every share minted for a trip.
func (r *Repository) ListLocationShares(ctx context.Context, tripID string) ([]domain.LocationShare, error) {
	query := `
		SELECT id, trip_id, day_number, share_token, is_active, expires_at, created_at
		FROM trip_location_shares
		WHERE trip_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list location shares: %w", err)
	}
	defer rows.Close()

	shares := make([]domain.LocationShare, 0)
	for rows.Next() {
		var share domain.LocationShare
		err := rows.Scan(
			&share.ID,
			&share.TripID,
			&share.DayNumber,
			&share.ShareToken,
			&share.IsActive,
			&share.ExpiresAt,
			&share.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan location share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

// DeactivateLocationShare revokes a share token.
func (r *Repository) DeactivateLocationShare(ctx context.Context, shareToken string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE trip_location_shares SET is_active = FALSE WHERE share_token = $1
	`, shareToken)
	if err != nil {
		return fmt.Errorf("deactivate location share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return trips.ErrShareNotFound
	}
	return nil
}
