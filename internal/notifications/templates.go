package notifications

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/appreciatorme/travel-ops/internal/domain"
)

// TemplateKey identifies a canned notification template.
type TemplateKey string

// Template keys.
const (
	TemplatePickupReminderClient      TemplateKey = "pickup_reminder_client"
	TemplatePickupReminderDriver      TemplateKey = "pickup_reminder_driver"
	TemplateTripDelayUpdate           TemplateKey = "trip_delay_update"
	TemplateDriverReassigned          TemplateKey = "driver_reassigned"
	TemplatePaymentConfirmed          TemplateKey = "payment_confirmed"
	TemplateLifecycleLead             TemplateKey = "lifecycle_lead"
	TemplateLifecycleProspect         TemplateKey = "lifecycle_prospect"
	TemplateLifecycleProposal         TemplateKey = "lifecycle_proposal"
	TemplateLifecyclePaymentPending   TemplateKey = "lifecycle_payment_pending"
	TemplateLifecyclePaymentConfirmed TemplateKey = "lifecycle_payment_confirmed"
	TemplateLifecycleActive           TemplateKey = "lifecycle_active"
	TemplateLifecycleReview           TemplateKey = "lifecycle_review"
	TemplateLifecyclePast             TemplateKey = "lifecycle_past"
)

// Default content used when a queue item carries neither a template
// key nor a literal title/body.
const (
	DefaultTitle = "Trip Notification"
	DefaultBody  = "You have an update for your trip."
)

// RenderedMessage is the generic-channel output of the renderer.
type RenderedMessage struct {
	Title string
	Body  string
}

// WhatsAppTemplate is the envelope for a pre-approved provider
// template: template name, language, and positional body parameters.
type WhatsAppTemplate struct {
	Name         string
	LanguageCode string
	BodyParams   []string
}

// RendererConfig allows overriding provider template names per key and
// the template language code.
type RendererConfig struct {
	Language      string
	TemplateNames map[TemplateKey]string
}

// Renderer resolves template keys into channel content. Stateless and
// safe for concurrent use.
type Renderer struct {
	language string
	names    map[TemplateKey]string
}

var defaultTemplateNames = map[TemplateKey]string{
	TemplatePickupReminderClient:      "pickup_reminder_60m_v1",
	TemplatePickupReminderDriver:      "pickup_reminder_driver_60m_v1",
	TemplateTripDelayUpdate:           "trip_delay_update_v1",
	TemplateDriverReassigned:          "driver_reassigned_v1",
	TemplatePaymentConfirmed:          "payment_confirmed_v1",
	TemplateLifecycleLead:             "lifecycle_lead_v1",
	TemplateLifecycleProspect:         "lifecycle_prospect_v1",
	TemplateLifecycleProposal:         "lifecycle_proposal_v1",
	TemplateLifecyclePaymentPending:   "lifecycle_payment_pending_v1",
	TemplateLifecyclePaymentConfirmed: "payment_confirmed_v1",
	TemplateLifecycleActive:           "lifecycle_active_v1",
	TemplateLifecycleReview:           "lifecycle_review_v1",
	TemplateLifecyclePast:             "lifecycle_past_v1",
}

// NewRenderer creates a renderer with config overrides applied over
// the built-in template names.
func NewRenderer(cfg RendererConfig) *Renderer {
	names := make(map[TemplateKey]string, len(defaultTemplateNames))
	for key, name := range defaultTemplateNames {
		names[key] = name
	}
	for key, name := range cfg.TemplateNames {
		if name != "" {
			names[key] = name
		}
	}

	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}

	return &Renderer{language: lang, names: names}
}

var titleCaser = cases.Title(language.English)

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Render produces the generic title/body for a template key.
func (r *Renderer) Render(key TemplateKey, vars domain.TemplateVars) RenderedMessage {
	dayNumber := orDefault(vars.DayNumber, "today")
	pickupTime := orDefault(vars.PickupTime, "soon")
	pickupLocation := orDefault(vars.PickupLocation, "pickup point")
	clientName := orDefault(vars.ClientName, "Client")
	destination := orDefault(vars.Destination, "your destination")
	tripTitle := orDefault(vars.TripTitle, destination)

	var liveLink string
	if vars.LiveLink != "" {
		liveLink = "\n\nTrack live location:\n" + vars.LiveLink
	}

	switch key {
	case TemplatePickupReminderClient:
		return RenderedMessage{
			Title: "Pickup Reminder",
			Body:  fmt.Sprintf("Your pickup is in 1 hour (%s) at %s for Day %s.%s", pickupTime, pickupLocation, dayNumber, liveLink),
		}
	case TemplatePickupReminderDriver:
		return RenderedMessage{
			Title: "Upcoming Pickup",
			Body:  fmt.Sprintf("Pickup in 1 hour (%s) at %s. Client: %s. Day %s.%s", pickupTime, pickupLocation, clientName, dayNumber, liveLink),
		}
	case TemplateTripDelayUpdate:
		return RenderedMessage{
			Title: "Trip Delay Update",
			Body:  fmt.Sprintf("There is a delay of %s minutes for %s on Day %s.", orDefault(vars.DelayMinutes, "15"), tripTitle, dayNumber),
		}
	case TemplateDriverReassigned:
		return RenderedMessage{
			Title: "Driver Reassigned",
			Body:  fmt.Sprintf("%s has been assigned for %s (Day %s) at %s.", orDefault(vars.NewDriverName, "A new driver"), tripTitle, dayNumber, pickupTime),
		}
	case TemplatePaymentConfirmed, TemplateLifecyclePaymentConfirmed:
		return RenderedMessage{
			Title: "Payment Confirmed",
			Body:  fmt.Sprintf("Hi %s, your payment is confirmed. Your booking is secured and trip operations will proceed as scheduled.", clientName),
		}
	case TemplateLifecycleLead:
		return RenderedMessage{
			Title: "Welcome to Trip Planning",
			Body:  fmt.Sprintf("Hi %s, we have opened your planning profile. We will contact you with the next steps shortly.", clientName),
		}
	case TemplateLifecycleProspect:
		return RenderedMessage{
			Title: "Consultation In Progress",
			Body:  fmt.Sprintf("Hi %s, your trip request is now in consultation. We are refining your preferences for %s.", clientName, destination),
		}
	case TemplateLifecycleProposal:
		return RenderedMessage{
			Title: "Trip Proposal Ready",
			Body:  fmt.Sprintf("Hi %s, your proposal for %s is ready for review. Please check and confirm any updates.", clientName, destination),
		}
	case TemplateLifecyclePaymentPending:
		return RenderedMessage{
			Title: "Payment Action Required",
			Body:  fmt.Sprintf("Hi %s, your booking is reserved. Please complete payment to confirm your trip to %s.", clientName, destination),
		}
	case TemplateLifecycleActive:
		return RenderedMessage{
			Title: "Trip Is Active",
			Body:  fmt.Sprintf("Hi %s, your trip is now active. We'll continue sharing live updates and key reminders.", clientName),
		}
	case TemplateLifecycleReview:
		return RenderedMessage{
			Title: "How Was Your Trip?",
			Body:  fmt.Sprintf("Hi %s, we hope you had a great experience. Please share your feedback so we can improve further.", clientName),
		}
	case TemplateLifecyclePast:
		return RenderedMessage{
			Title: "Trip Closed",
			Body:  fmt.Sprintf("Hi %s, your trip file is now closed. Thank you for traveling with us.", clientName),
		}
	default:
		return RenderedMessage{
			Title: humanizeKey(key),
			Body:  fmt.Sprintf("You have an update for %s.", tripTitle),
		}
	}
}

// WhatsAppTemplate returns the provider template envelope for keys
// that map to a pre-approved WhatsApp template, or nil when the key
// has none and the message must go out as free-form text.
func (r *Renderer) WhatsAppTemplate(key TemplateKey, vars domain.TemplateVars) *WhatsAppTemplate {
	dayNumber := orDefault(vars.DayNumber, "1")
	pickupTime := orDefault(vars.PickupTime, "soon")
	pickupLocation := orDefault(vars.PickupLocation, "pickup point")
	clientName := orDefault(vars.ClientName, "Traveler")
	destination := orDefault(vars.Destination, "your destination")
	driverName := orDefault(vars.DriverName, "your driver")
	liveLink := orDefault(vars.LiveLink, "No live link yet")

	var params []string
	switch key {
	case TemplatePickupReminderClient:
		params = []string{clientName, pickupTime, pickupLocation, driverName, liveLink}
	case TemplatePickupReminderDriver:
		params = []string{driverName, pickupTime, pickupLocation, clientName, dayNumber, liveLink}
	case TemplateTripDelayUpdate:
		params = []string{destination, orDefault(vars.DelayMinutes, "15"), dayNumber}
	case TemplateDriverReassigned:
		params = []string{clientName, orDefault(vars.NewDriverName, "a new driver"), pickupTime, pickupLocation}
	case TemplatePaymentConfirmed, TemplateLifecyclePaymentConfirmed,
		TemplateLifecycleProspect, TemplateLifecycleProposal, TemplateLifecyclePaymentPending:
		params = []string{clientName, destination}
	case TemplateLifecycleLead, TemplateLifecycleActive, TemplateLifecycleReview, TemplateLifecyclePast:
		params = []string{clientName}
	default:
		return nil
	}

	return &WhatsAppTemplate{
		Name:         r.names[key],
		LanguageCode: r.language,
		BodyParams:   params,
	}
}

// humanizeKey turns an unknown template key into a presentable title,
// e.g. "visa_check" -> "Visa Check".
func humanizeKey(key TemplateKey) string {
	if key == "" {
		return "Trip Update"
	}
	return titleCaser.String(strings.ReplaceAll(string(key), "_", " "))
}
