package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlatformStatus is the state of a coach's subscription to the platform.
type PlatformStatus string

const (
	PlatformStatusNone     PlatformStatus = "none"
	PlatformStatusActive   PlatformStatus = "active"
	PlatformStatusPastDue  PlatformStatus = "past_due"
	PlatformStatusCanceled PlatformStatus = "canceled"
)

func (s PlatformStatus) Valid() bool {
	switch s {
	case PlatformStatusNone, PlatformStatusActive, PlatformStatusPastDue, PlatformStatusCanceled:
		return true
	}
	return false
}

// PayoutStatus is the onboarding state of a coach's connected payout account.
type PayoutStatus string

const (
	PayoutStatusNotCreated PayoutStatus = "not_created"
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusActive     PayoutStatus = "active"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusNotCreated, PayoutStatusPending, PayoutStatusActive:
		return true
	}
	return false
}

// SubscriptionStatus is the state of a user's subscription to a coach.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// CheckoutKind selects which checkout flow a session belongs to.
type CheckoutKind string

const (
	CheckoutKindCoach CheckoutKind = "coach"
	CheckoutKindUser  CheckoutKind = "user"
)

// Metadata keys attached to provider objects. They are the only link between
// a provider session or subscription and local entities.
const (
	MetaKind      = "kind"
	MetaCoachID   = "coach_id"
	MetaProfileID = "profile_id"
	MetaUserID    = "user_id"
)

// Coach is the billing view of a coach tenant.
type Coach struct {
	ID          uuid.UUID
	ProfileID   uuid.UUID
	Slug        string
	DisplayName string
	Email       string
	Country     string
	UserPriceID string

	PlatformStatus         PlatformStatus
	PlatformSubscriptionID string
	ProviderCustomerID     string
	PlatformEventAt        *time.Time

	PayoutAccountID string
	PayoutStatus    PayoutStatus
	PayoutEventAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AcceptsSubscriptions reports whether users may start subscriptions to the coach.
func (c *Coach) AcceptsSubscriptions() bool {
	return c.PlatformStatus == PlatformStatusActive
}

// CanReceivePayouts reports whether user revenue can be routed to the coach's
// connected account.
func (c *Coach) CanReceivePayouts() bool {
	return c.PayoutAccountID != "" && c.PayoutStatus == PayoutStatusActive
}

// UserSubscription is a user's subscription to a single coach.
// CurrentPeriodEnd is advisory; access checks use Status.
type UserSubscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	CoachID                uuid.UUID
	ProviderSubscriptionID string
	Status                 SubscriptionStatus
	CurrentPeriodEnd       *time.Time
	CanceledAt             *time.Time
	LastEventAt            time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *UserSubscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// Identity is the authenticated caller as resolved by the session layer.
// CoachID is set only when the caller owns a coach tenant.
type Identity struct {
	UserID    uuid.UUID
	ProfileID uuid.UUID
	CoachID   uuid.UUID
	Email     string
}

func (i Identity) IsCoach() bool {
	return i.CoachID != uuid.Nil
}

// AccountStatus is the result of a payout account status query.
type AccountStatus struct {
	Status           PayoutStatus `json:"status"`
	ChargesEnabled   bool         `json:"chargesEnabled"`
	PayoutsEnabled   bool         `json:"payoutsEnabled"`
	DetailsSubmitted bool         `json:"detailsSubmitted"`
	// Stale is set when the provider could not be reached and Status is the
	// last cached value.
	Stale bool `json:"stale,omitempty"`
}

// Connected reports whether a payout account exists for the coach.
func (s AccountStatus) Connected() bool {
	return s.Status != PayoutStatusNotCreated
}

// PlatformSubscriptionEvent updates a coach's platform subscription.
type PlatformSubscriptionEvent struct {
	CoachID        uuid.UUID
	Status         PlatformStatus
	SubscriptionID string
	CustomerID     string
	OccurredAt     time.Time
}

// PayoutAccountEvent updates the status of the coach owning AccountID.
type PayoutAccountEvent struct {
	AccountID  string
	Status     PayoutStatus
	OccurredAt time.Time
}

// UserSubscriptionEvent upserts a subscription row keyed by
// (UserID, CoachID, SubscriptionID).
type UserSubscriptionEvent struct {
	UserID           uuid.UUID
	CoachID          uuid.UUID
	SubscriptionID   string
	Status           SubscriptionStatus
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time
	OccurredAt       time.Time
}

// PayoutStatusUpdate is a compare-and-swap request issued by the reconciler.
type PayoutStatusUpdate struct {
	CoachID    uuid.UUID
	AccountID  string
	Expected   PayoutStatus
	Next       PayoutStatus
	ObservedAt time.Time
}
