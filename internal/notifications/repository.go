// Package notifications implements the notification delivery queue:
// idempotent enqueue, claim-based dequeue, multi-channel fan-out with
// per-attempt audit records, capped exponential backoff, and a
// dead-letter path for exhausted items.
package notifications

import (
	"context"
	"time"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// Repository defines the queue's data access. The queue table is the
// only shared mutable resource; the delivery-status and dead-letter
// tables are append-only.
type Repository interface {
	// Enqueue inserts a pending queue item. Returns false without
	// error when the idempotency key is already present.
	Enqueue(ctx context.Context, item *domain.QueueItem) (created bool, err error)

	// DueItems returns up to limit pending items with
	// scheduled_for <= now, oldest first.
	DueItems(ctx context.Context, now time.Time, limit int) ([]domain.QueueItem, error)

	// Claim atomically transitions one row pending -> processing,
	// increments attempts and stamps last_attempt_at. Returns the new
	// attempt count and false when another worker won the race.
	Claim(ctx context.Context, id string, now time.Time) (attempts int, claimed bool, err error)

	// MarkSent finalizes a delivered item and clears its error.
	MarkSent(ctx context.Context, id string, at time.Time) error

	// MarkFailed finalizes an exhausted item.
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error

	// Reschedule returns a claimed item to pending with a new due time.
	Reschedule(ctx context.Context, id, reason string, nextAt time.Time) error

	// TrackDelivery appends one delivery-status record. Never updates.
	TrackDelivery(ctx context.Context, rec *domain.DeliveryStatus) error

	// InsertDeadLetter appends the permanent-failure record.
	InsertDeadLetter(ctx context.Context, rec *domain.DeadLetter) error

	// ResolveOrganization maps a queue item to its organization for
	// audit partitioning: trip's org first, then the user's.
	ResolveOrganization(ctx context.Context, item *domain.QueueItem) (string, error)

	// GetQueueItem fetches one item by id.
	GetQueueItem(ctx context.Context, id string) (*domain.QueueItem, error)

	// ResetForRetry moves a non-terminal-success item back to pending,
	// due immediately. Returns false when the item is already sent or
	// being processed.
	ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error)

	// ResetAllFailed moves every failed item back to pending and
	// returns how many rows were reset.
	ResetAllFailed(ctx context.Context, now time.Time) (int, error)

	// ListDeliveries returns a page of delivery-status records plus
	// the total match count.
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]domain.DeliveryStatus, int, error)

	// CountDeliveriesByStatus aggregates delivery records per status
	// for an organization.
	CountDeliveriesByStatus(ctx context.Context, organizationID string) (map[string]int, error)

	// GetQueueStats counts queue items per status.
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// DeliveryFilter narrows and paginates delivery-status listings.
type DeliveryFilter struct {
	OrganizationID string
	Channel        domain.Channel // empty = all
	Status         domain.DeliveryState
	TripID         string
	FailedOnly     bool // failed or retrying
	Limit          int  // clamped to 1..200
	Offset         int
}

// QueueStats holds queue item counts per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}
