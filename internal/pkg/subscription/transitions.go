package subscription

import (
	"github.com/ManuelReschke/PropNest/app/models"
)

// Event is something that moves a subscription between statuses.
type Event string

const (
	EventPause          Event = "pause"
	EventResume         Event = "resume"
	EventCancel         Event = "cancel"
	EventScheduleCancel Event = "schedule_cancel"
	EventActivate       Event = "activate"
	EventChargeFailed   Event = "charge_failed"
	EventGatewayCancel  Event = "gateway_cancel"
)

// transitions maps an event to the statuses it may fire from and the status
// it leads to. A missing entry means the event is not allowed.
var transitions = map[Event]map[models.SubscriptionStatus]models.SubscriptionStatus{
	EventPause: {
		models.SubscriptionStatusActive: models.SubscriptionStatusPaused,
	},
	EventResume: {
		models.SubscriptionStatusPaused: models.SubscriptionStatusActive,
	},
	EventCancel: {
		models.SubscriptionStatusTrialing: models.SubscriptionStatusCanceled,
		models.SubscriptionStatusActive:   models.SubscriptionStatusCanceled,
		models.SubscriptionStatusPaused:   models.SubscriptionStatusCanceled,
		models.SubscriptionStatusPastDue:  models.SubscriptionStatusCanceled,
	},
	// the status stays until period rollover cancels it
	EventScheduleCancel: {
		models.SubscriptionStatusTrialing: models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive:   models.SubscriptionStatusActive,
	},
	EventActivate: {
		models.SubscriptionStatusTrialing: models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue:  models.SubscriptionStatusActive,
		models.SubscriptionStatusActive:   models.SubscriptionStatusActive,
	},
	EventChargeFailed: {
		models.SubscriptionStatusTrialing: models.SubscriptionStatusPastDue,
		models.SubscriptionStatusActive:   models.SubscriptionStatusPastDue,
		models.SubscriptionStatusPaused:   models.SubscriptionStatusPastDue,
		models.SubscriptionStatusPastDue:  models.SubscriptionStatusPastDue,
	},
	EventGatewayCancel: {
		models.SubscriptionStatusTrialing: models.SubscriptionStatusCanceled,
		models.SubscriptionStatusActive:   models.SubscriptionStatusCanceled,
		models.SubscriptionStatusPaused:   models.SubscriptionStatusCanceled,
		models.SubscriptionStatusPastDue:  models.SubscriptionStatusCanceled,
		models.SubscriptionStatusExpired:  models.SubscriptionStatusCanceled,
		models.SubscriptionStatusCanceled: models.SubscriptionStatusCanceled,
	},
}

// Next returns the status event leads to from current.
func Next(current models.SubscriptionStatus, event Event) (models.SubscriptionStatus, bool) {
	to, ok := transitions[event][current]
	return to, ok
}

// Can reports whether event may fire from current.
func Can(current models.SubscriptionStatus, event Event) bool {
	_, ok := Next(current, event)
	return ok
}
