// Package domain contains core domain types shared across modules.
package domain

import "time"

// QueueStatus represents the lifecycle state of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// RecipientType identifies who a notification targets.
type RecipientType string

// Recipient types.
const (
	RecipientClient RecipientType = "client"
	RecipientDriver RecipientType = "driver"
	RecipientAdmin  RecipientType = "admin"
)

// Channel is an independent delivery mechanism.
type Channel string

// Delivery channels.
const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPush     Channel = "push"
	ChannelEmail    Channel = "email"
)

// DeliveryState is the outcome of one delivery attempt on one channel.
type DeliveryState string

// Delivery states.
const (
	DeliverySent     DeliveryState = "sent"
	DeliveryFailed   DeliveryState = "failed"
	DeliverySkipped  DeliveryState = "skipped"
	DeliveryRetrying DeliveryState = "retrying"
)

// Payload carries the content of a queued notification. Either a
// template reference (TemplateKey + TemplateVars) or a literal
// Title/Body pair; the engine falls back to defaults when both are
// empty.
type Payload struct {
	Title        string       `json:"title,omitempty"`
	Body         string       `json:"body,omitempty"`
	TemplateKey  string       `json:"template_key,omitempty"`
	TemplateVars TemplateVars `json:"template_vars,omitempty"`
	DayNumber    int          `json:"day_number,omitempty"`
}

// TemplateVars holds the variables notification templates interpolate.
type TemplateVars struct {
	PickupTime     string `json:"pickup_time,omitempty"`
	PickupLocation string `json:"pickup_location,omitempty"`
	DayNumber      string `json:"day_number,omitempty"`
	ClientName     string `json:"client_name,omitempty"`
	Destination    string `json:"destination,omitempty"`
	TripTitle      string `json:"trip_title,omitempty"`
	DelayMinutes   string `json:"delay_minutes,omitempty"`
	NewDriverName  string `json:"new_driver_name,omitempty"`
	DriverName     string `json:"driver_name,omitempty"`
	LiveLink       string `json:"live_link,omitempty"`
}

// QueueItem is a single logical notification awaiting delivery.
type QueueItem struct {
	ID             string        `json:"id"`
	IdempotencyKey string        `json:"idempotency_key"`
	UserID         string        `json:"user_id"`
	TripID         string        `json:"trip_id"`
	RecipientPhone string        `json:"recipient_phone"`
	RecipientType  RecipientType `json:"recipient_type"`
	Type           string        `json:"type"` // notification_type tag, e.g. "pickup_reminder"
	Payload        Payload       `json:"payload"`
	Status         QueueStatus   `json:"status"`
	Attempts       int           `json:"attempts"`
	ScheduledFor   time.Time     `json:"scheduled_for"`
	LastAttemptAt  *time.Time    `json:"last_attempt_at"`
	ProcessedAt    *time.Time    `json:"processed_at"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DeliveryStatus is one append-only audit record per
// (queue item, channel, attempt). Never updated or deleted.
type DeliveryStatus struct {
	ID                string         `json:"id"`
	OrganizationID    string         `json:"organization_id,omitempty"`
	QueueID           string         `json:"queue_id"`
	TripID            string         `json:"trip_id,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	RecipientPhone    string         `json:"recipient_phone,omitempty"`
	RecipientType     RecipientType  `json:"recipient_type"`
	Channel           Channel        `json:"channel"`
	Provider          string         `json:"provider,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Type              string         `json:"type"`
	Status            DeliveryState  `json:"status"`
	AttemptNumber     int            `json:"attempt_number"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	SentAt            *time.Time     `json:"sent_at"`
	FailedAt          *time.Time     `json:"failed_at"`
	CreatedAt         time.Time      `json:"created_at"`
}

// DeadLetter is the permanent quarantine record for a queue item that
// exhausted its retry budget on all channels. Created exactly once.
type DeadLetter struct {
	ID             string        `json:"id"`
	QueueID        string        `json:"queue_id"`
	OrganizationID string        `json:"organization_id,omitempty"`
	TripID         string        `json:"trip_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	RecipientPhone string        `json:"recipient_phone,omitempty"`
	RecipientType  RecipientType `json:"recipient_type"`
	Type           string        `json:"type"`
	Payload        Payload       `json:"payload"`
	Attempts       int           `json:"attempts"`
	ErrorMessage   string        `json:"error_message"`
	FailedChannels []string      `json:"failed_channels"`
	CreatedAt      time.Time     `json:"created_at"`
}
