package billing

import (
	"time"

	"github.com/google/uuid"
)

// EventType is a provider-neutral webhook event type.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventAccountUpdated       EventType = "account.updated"
)

// Event is a decoded, verified provider event. Fields not relevant to Type
// are left zero. Status holds the provider's raw subscription status.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time

	Kind    CheckoutKind
	CoachID uuid.UUID
	UserID  uuid.UUID

	SubscriptionID   string
	CustomerID       string
	Status           string
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time

	Account *PayoutAccount
}

// PlatformStatusFromProvider maps a provider subscription status to a coach's
// platform status.
func PlatformStatusFromProvider(status string) (PlatformStatus, bool) {
	switch status {
	case "active", "trialing":
		return PlatformStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return PlatformStatusPastDue, true
	case "canceled", "incomplete_expired":
		return PlatformStatusCanceled, true
	}
	return "", false
}

// SubscriptionStatusFromProvider maps a provider subscription status to a
// user subscription status. Past-due subscriptions keep access until the
// provider cancels them.
func SubscriptionStatusFromProvider(status string) (SubscriptionStatus, bool) {
	switch status {
	case "active", "trialing", "past_due":
		return SubscriptionStatusActive, true
	case "canceled", "unpaid", "incomplete_expired":
		return SubscriptionStatusCanceled, true
	}
	return "", false
}
