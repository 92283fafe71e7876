// Package postgres provides the PostgreSQL implementation of the
// notifications repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/notifications"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const queueItemColumns = `
	id, idempotency_key, user_id, trip_id, recipient_phone, recipient_type,
	notification_type, payload, status, attempts, scheduled_for,
	last_attempt_at, processed_at, error_message, created_at
`

// Enqueue inserts a pending queue item. A conflicting idempotency key
// leaves the existing row untouched and reports created=false.
func (r *Repository) Enqueue(ctx context.Context, item *domain.QueueItem) (bool, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO notification_queue (
			id, idempotency_key, user_id, trip_id, recipient_phone,
			recipient_type, notification_type, payload, status, scheduled_for
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at
	`
	err = r.db.QueryRow(ctx, query,
		item.ID,
		item.IdempotencyKey,
		item.UserID,
		item.TripID,
		item.RecipientPhone,
		item.RecipientType,
		item.Type,
		payload,
		item.Status,
		item.ScheduledFor,
	).Scan(&item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return true, nil
}

// DueItems returns up to limit pending items due at or before now,
// oldest first.
func (r *Repository) DueItems(ctx context.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	query := `
		SELECT ` + queueItemColumns + `
		FROM notification_queue
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Claim transitions one row pending -> processing. The conditional
// UPDATE is the concurrency barrier: only one worker gets the row, and
// the attempt counter moves with the claim.
func (r *Repository) Claim(ctx context.Context, id string, now time.Time) (int, bool, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING attempts
	`
	var attempts int
	err := r.db.QueryRow(ctx, query, id, now).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("claim queue item: %w", err)
	}
	return attempts, true, nil
}

// MarkSent finalizes a delivered item.
func (r *Repository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', processed_at = $2, error_message = NULL
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed finalizes an exhausted item.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', processed_at = $2, error_message = $3
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, at, reason); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Reschedule returns a claimed item to pending with a new due time.
func (r *Repository) Reschedule(ctx context.Context, id, reason string, nextAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', scheduled_for = $2, error_message = $3
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, nextAt, reason); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// TrackDelivery appends one delivery-status record.
func (r *Repository) TrackDelivery(ctx context.Context, rec *domain.DeliveryStatus) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var sentAt, failedAt *time.Time
	now := time.Now()
	switch rec.Status {
	case domain.DeliverySent:
		sentAt = &now
	case domain.DeliveryFailed:
		failedAt = &now
	}

	query := `
		INSERT INTO notification_delivery_status (
			id, organization_id, queue_id, trip_id, user_id, recipient_phone,
			recipient_type, channel, provider, provider_message_id,
			notification_type, status, attempt_number, error_message,
			metadata, sent_at, failed_at
		)
		VALUES (
			$1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6,
			$7, $8, NULLIF($9, ''), NULLIF($10, ''),
			$11, $12, $13, NULLIF($14, ''), $15, $16, $17
		)
		RETURNING created_at
	`
	err = r.db.QueryRow(ctx, query,
		rec.ID,
		rec.OrganizationID,
		rec.QueueID,
		rec.TripID,
		rec.UserID,
		rec.RecipientPhone,
		rec.RecipientType,
		rec.Channel,
		rec.Provider,
		rec.ProviderMessageID,
		rec.Type,
		rec.Status,
		rec.AttemptNumber,
		rec.ErrorMessage,
		metadata,
		sentAt,
		failedAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("track delivery: %w", err)
	}

	rec.SentAt = sentAt
	rec.FailedAt = failedAt
	return nil
}

// InsertDeadLetter appends the permanent-failure record.
func (r *Repository) InsertDeadLetter(ctx context.Context, rec *domain.DeadLetter) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	channels, err := json.Marshal(rec.FailedChannels)
	if err != nil {
		return fmt.Errorf("marshal failed channels: %w", err)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO notification_dead_letters (
			id, queue_id, organization_id, trip_id, user_id, recipient_phone,
			recipient_type, notification_type, payload, attempts,
			error_message, failed_channels
		)
		VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6,
			$7, $8, $9, $10, $11, $12
		)
		RETURNING created_at
	`
	err = r.db.QueryRow(ctx, query,
		rec.ID,
		rec.QueueID,
		rec.OrganizationID,
		rec.TripID,
		rec.UserID,
		rec.RecipientPhone,
		rec.RecipientType,
		rec.Type,
		payload,
		rec.Attempts,
		rec.ErrorMessage,
		channels,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// ResolveOrganization maps a queue item to its organization: the
// trip's organization first, then the recipient profile's.
func (r *Repository) ResolveOrganization(ctx context.Context, item *domain.QueueItem) (string, error) {
	if item.TripID != "" {
		var orgID *string
		err := r.db.QueryRow(ctx,
			`SELECT organization_id FROM trips WHERE id = $1`, item.TripID,
		).Scan(&orgID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("resolve trip organization: %w", err)
		}
		if orgID != nil {
			return *orgID, nil
		}
	}

	if item.UserID != "" {
		var orgID *string
		err := r.db.QueryRow(ctx,
			`SELECT organization_id FROM profiles WHERE id = $1`, item.UserID,
		).Scan(&orgID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("resolve profile organization: %w", err)
		}
		if orgID != nil {
			return *orgID, nil
		}
	}

	return "", nil
}

// GetQueueItem fetches one queue item by id.
func (r *Repository) GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error) {
	query := `
		SELECT ` + queueItemColumns + `
		FROM notification_queue
		WHERE id = $1
	`
	row := r.db.QueryRow(ctx, query, id)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrQueueItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// ResetForRetry moves a failed or stuck pending item back to pending,
// due immediately. Sent and processing items are left alone.
func (r *Repository) ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', scheduled_for = $2, error_message = NULL, processed_at = NULL
		WHERE id = $1 AND status NOT IN ('sent', 'processing')
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("reset for retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetAllFailed moves every failed item back to pending.
func (r *Repository) ResetAllFailed(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', scheduled_for = $1, error_message = NULL, processed_at = NULL
		WHERE status = 'failed'
	`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reset all failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDeliveries returns one page of delivery records plus the total
// match count.
func (r *Repository) ListDeliveries(ctx context.Context, filter notifications.DeliveryFilter) ([]domain.DeliveryStatus, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OrganizationID != "" {
		where += " AND organization_id = " + arg(filter.OrganizationID)
	}
	if filter.Channel != "" {
		where += " AND channel = " + arg(filter.Channel)
	}
	if filter.Status != "" {
		where += " AND status = " + arg(filter.Status)
	}
	if filter.TripID != "" {
		where += " AND trip_id = " + arg(filter.TripID)
	}
	if filter.FailedOnly {
		where += " AND status IN ('failed', 'retrying')"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM notification_delivery_status " + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := `
		SELECT id, organization_id, queue_id, trip_id, user_id, recipient_phone,
			recipient_type, channel, provider, provider_message_id,
			notification_type, status, attempt_number, error_message,
			metadata, sent_at, failed_at, created_at
		FROM notification_delivery_status ` + where + `
		ORDER BY created_at DESC
		LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryStatus, 0)
	for rows.Next() {
		var rec domain.DeliveryStatus
		var orgID, tripID, userID, provider, providerMessageID, errorMessage *string
		var metadata []byte

		err := rows.Scan(
			&rec.ID,
			&orgID,
			&rec.QueueID,
			&tripID,
			&userID,
			&rec.RecipientPhone,
			&rec.RecipientType,
			&rec.Channel,
			&provider,
			&providerMessageID,
			&rec.Type,
			&rec.Status,
			&rec.AttemptNumber,
			&errorMessage,
			&metadata,
			&rec.SentAt,
			&rec.FailedAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan delivery: %w", err)
		}

		rec.OrganizationID = deref(orgID)
		rec.TripID = deref(tripID)
		rec.UserID = deref(userID)
		rec.Provider = deref(provider)
		rec.ProviderMessageID = deref(providerMessageID)
		rec.ErrorMessage = deref(errorMessage)

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// CountDeliveriesByStatus aggregates delivery records per status.
func (r *Repository) CountDeliveriesByStatus(ctx context.Context, organizationID string) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM notification_delivery_status
		WHERE ($1 = '' OR organization_id = $1)
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("count deliveries by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GetQueueStats counts queue items per status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stat: %w", err)
		}
		switch domain.QueueStatus(status) {
		case domain.QueueStatusPending:
			stats.Pending = count
		case domain.QueueStatusProcessing:
			stats.Processing = count
		case domain.QueueStatusSent:
			stats.Sent = count
		case domain.QueueStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var userID, tripID, errorMessage *string
	var payload []byte

	err := row.Scan(
		&item.ID,
		&item.IdempotencyKey,
		&userID,
		&tripID,
		&item.RecipientPhone,
		&item.RecipientType,
		&item.Type,
		&payload,
		&item.Status,
		&item.Attempts,
		&item.ScheduledFor,
		&item.LastAttemptAt,
		&item.ProcessedAt,
		&errorMessage,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan queue item: %w", err)
	}

	item.UserID = deref(userID)
	item.TripID = deref(tripID)
	item.ErrorMessage = deref(errorMessage)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &item, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
