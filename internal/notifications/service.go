package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// EnqueueInput is the producer-facing enqueue contract. Producers must
// supply an idempotency key unique per logical event; re-firing the
// same event never double-enqueues.
type EnqueueInput struct {
	UserID         string
	TripID         string
	RecipientPhone string
	RecipientType  domain.RecipientType
	Type           string
	Payload        domain.Payload
	ScheduledFor   time.Time
	IdempotencyKey string
}

// EnqueueResult reports what happened to an enqueue request.
type EnqueueResult struct {
	ID        string
	Duplicate bool
}

// DeliveryPage is one page of delivery-status records plus aggregate
// counts for the admin dashboard.
type DeliveryPage struct {
	Rows           []domain.DeliveryStatus
	Total          int
	Limit          int
	Offset         int
	CountsByStatus map[string]int
}

// Service exposes the queue's public operations: enqueue, manual
// retries, and delivery listings.
type Service struct {
	repo Repository
}

// NewService creates a notifications service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// LifecycleIdempotencyKey builds the deterministic key producers use
// for lifecycle-stage-change notifications.
func LifecycleIdempotencyKey(userID, fromStage, toStage string, at time.Time) string {
	return fmt.Sprintf("lifecycle-stage:%s:%s:%s:%d", userID, fromStage, toStage, at.UnixMilli())
}

// Enqueue inserts a pending queue item. A duplicate idempotency key is
// not an error; the caller gets Duplicate=true and nothing is written.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (EnqueueResult, error) {
	if input.UserID == "" && input.RecipientPhone == "" {
		return EnqueueResult{}, ErrMissingRecipient
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = uuid.New().String()
	}
	if input.ScheduledFor.IsZero() {
		input.ScheduledFor = time.Now()
	}
	if input.RecipientType == "" {
		input.RecipientType = domain.RecipientClient
	}
	if input.Type == "" {
		input.Type = "general"
	}

	item := &domain.QueueItem{
		ID:             uuid.New().String(),
		IdempotencyKey: input.IdempotencyKey,
		UserID:         input.UserID,
		TripID:         input.TripID,
		RecipientPhone: input.RecipientPhone,
		RecipientType:  input.RecipientType,
		Type:           input.Type,
		Payload:        input.Payload,
		Status:         domain.QueueStatusPending,
		ScheduledFor:   input.ScheduledFor,
	}

	created, err := s.repo.Enqueue(ctx, item)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue: %w", err)
	}
	if !created {
		slog.Debug("duplicate enqueue ignored", "idempotency_key", input.IdempotencyKey)
		return EnqueueResult{ID: item.ID, Duplicate: true}, nil
	}

	return EnqueueResult{ID: item.ID}, nil
}

// RetryOne resets a queue item to pending, due immediately. A no-op,
// not an error, when the item already delivered or is mid-flight, so
// the admin button is safe to click repeatedly.
func (s *Service) RetryOne(ctx context.Context, queueID string) (retried bool, err error) {
	if _, err := s.repo.GetQueueItem(ctx, queueID); err != nil {
		return false, err
	}

	retried, err = s.repo.ResetForRetry(ctx, queueID, time.Now())
	if err != nil {
		return false, fmt.Errorf("reset for retry: %w", err)
	}
	if retried {
		slog.Info("queue item reset for retry", "queue_id", queueID)
	}
	return retried, nil
}

// RetryAllFailed moves every failed queue item back to pending and
// returns the number of rows reset.
func (s *Service) RetryAllFailed(ctx context.Context) (int, error) {
	count, err := s.repo.ResetAllFailed(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("reset all failed: %w", err)
	}

	slog.Info("failed queue items reset", "count", count)
	return count, nil
}

// ListDeliveries returns a page of delivery records for the admin
// dashboard, with counts-by-status for the same organization.
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) (*DeliveryPage, error) {
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, total, err := s.repo.ListDeliveries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	counts, err := s.repo.CountDeliveriesByStatus(ctx, filter.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	return &DeliveryPage{
		Rows:           rows,
		Total:          total,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
		CountsByStatus: counts,
	}, nil
}

// QueueStats returns queue item counts per status.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	return s.repo.GetQueueStats(ctx)
}
