package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultShareTTL is how long a minted live-location share stays valid.
const DefaultShareTTL = 48 * time.Hour

// LiveLinkResolver implements notifications.LiveLinkResolver on top of
// the trip_location_shares table. An active non-expired share for the
// same trip and day is reused; otherwise a fresh share is minted.
type LiveLinkResolver struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

// NewLiveLinkResolver creates a live-link resolver.
func NewLiveLinkResolver(db *pgxpool.Pool, ttl time.Duration) *LiveLinkResolver {
	if ttl <= 0 {
		ttl = DefaultShareTTL
	}
	return &LiveLinkResolver{db: db, ttl: ttl}
}

// ResolveLiveLink returns the share token for a trip day.
func (r *LiveLinkResolver) ResolveLiveLink(ctx context.Context, tripID string, dayNumber int) (string, error) {
	var token string
	err := r.db.QueryRow(ctx, `
		SELECT share_token
		FROM trip_location_shares
		WHERE trip_id = $1 AND day_number = $2 AND is_active AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, tripID, dayNumber).Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup location share: %w", err)
	}

	token, err = newShareToken()
	if err != nil {
		return "", err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO trip_location_shares (trip_id, day_number, share_token, is_active, expires_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, tripID, dayNumber, token, time.Now().Add(r.ttl))
	if err != nil {
		return "", fmt.Errorf("mint location share: %w", err)
	}
	return token, nil
}

func newShareToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
