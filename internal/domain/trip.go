package domain

import "time"

// TripStatus is the lifecycle stage of a trip, from first contact to
// closed file.
type TripStatus string

// Trip lifecycle stages.
const (
	TripStatusLead             TripStatus = "lead"
	TripStatusProspect         TripStatus = "prospect"
	TripStatusProposal         TripStatus = "proposal"
	TripStatusPaymentPending   TripStatus = "payment_pending"
	TripStatusPaymentConfirmed TripStatus = "payment_confirmed"
	TripStatusActive           TripStatus = "active"
	TripStatusReview           TripStatus = "review"
	TripStatusPast             TripStatus = "past"
)

// Trip is a booked travel itinerary run by an organization.
type Trip struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ClientID       string     `json:"client_id,omitempty"`
	Title          string     `json:"title"`
	Destination    string     `json:"destination"`
	Status         TripStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Profile is a user known to the system: client, driver, or admin.
type Profile struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	FullName       string    `json:"full_name"`
	Phone          string    `json:"phone"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// PushToken is one registered mobile device of a user.
type PushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationShare is a time-limited public token exposing a trip day's
// live vehicle position.
type LocationShare struct {
	ID         string    `json:"id"`
	TripID     string    `json:"trip_id"`
	DayNumber  int       `json:"day_number"`
	ShareToken string    `json:"share_token"`
	IsActive   bool      `json:"is_active"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
