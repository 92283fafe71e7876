package trips

import "errors"

// Trip errors.
var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrShareNotFound   = errors.New("location share not found")
)
