package notifications

import "context"

// SendResult is the outcome of a single provider call. Failures are
// reported in Err rather than panics so the engine can treat every
// channel uniformly.
type SendResult struct {
	Success   bool
	MessageID string
	Err       string
}

// ChatSender delivers messages over a chat-style provider (WhatsApp).
type ChatSender interface {
	// Provider returns the tag recorded in delivery-status rows.
	Provider() string
	// SendText sends a free-form text message.
	SendText(ctx context.Context, phone, message string) SendResult
	// SendTemplate sends a pre-approved provider template.
	SendTemplate(ctx context.Context, phone string, tpl WhatsAppTemplate) SendResult
}

// PushSender delivers mobile push notifications to all of a user's
// registered devices.
type PushSender interface {
	Provider() string
	SendToUser(ctx context.Context, userID, title, body string, data map[string]string) SendResult
}

// LiveLinkResolver resolves or mints a live-location share token for a
// (trip, day) pair. Reuses an active, non-expired share before
// creating a new one.
type LiveLinkResolver interface {
	ResolveLiveLink(ctx context.Context, tripID string, dayNumber int) (token string, err error)
}
