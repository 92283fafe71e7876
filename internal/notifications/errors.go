package notifications

import "errors"

// Queue errors.
var (
	ErrQueueItemNotFound = errors.New("queue item not found")
	ErrMissingRecipient  = errors.New("queue item needs a user_id or recipient_phone")
)

// Authorization errors.
var (
	ErrUnauthorizedRun = errors.New("queue run not authorized")
)
