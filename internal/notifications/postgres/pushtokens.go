package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PushTokenStore implements push.TokenStore on the push_tokens table.
type PushTokenStore struct {
	db *pgxpool.Pool
}

// NewPushTokenStore creates a push token store.
func NewPushTokenStore(db *pgxpool.Pool) *PushTokenStore {
	return &PushTokenStore{db: db}
}

// ActiveTokens returns every active device token registered for the
// user, most recently seen first.
func (s *PushTokenStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token
		FROM push_tokens
		WHERE user_id = $1 AND is_active
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// DeactivateToken retires a device token the provider reported dead.
func (s *PushTokenStore) DeactivateToken(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE push_tokens SET is_active = FALSE, updated_at = NOW() WHERE token = $1
	`, token); err != nil {
		return fmt.Errorf("deactivate push token: %w", err)
	}
	return nil
}
