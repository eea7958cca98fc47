package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store persists coach billing fields and user subscriptions. It is the only
// writer of that state.
//
// Apply* methods are idempotent under redelivery. They return a
// *StaleEventError when the event is older than the state already stored, and
// an error matching ErrNotFound when the target entity does not exist.
type Store interface {
	GetCoach(ctx context.Context, id uuid.UUID) (*Coach, error)
	GetCoachBySlug(ctx context.Context, slug string) (*Coach, error)
	GetCoachByPayoutAccount(ctx context.Context, accountID string) (*Coach, error)
	// AssignedCoachID returns uuid.Nil when the user has no assigned coach.
	AssignedCoachID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)

	// SetPayoutAccount stores the first payout account reference of a coach
	// and moves it to pending. It fails with ErrPayoutAccountExists when a
	// reference is already stored.
	SetPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) error
	// CompareAndSwapPayoutStatus writes Next only while the stored reference,
	// status and watermark still match what the caller read. It reports
	// whether a row was updated.
	CompareAndSwapPayoutStatus(ctx context.Context, upd PayoutStatusUpdate) (bool, error)
	// ClearPayoutAccount drops a reference the provider no longer knows.
	// It reports whether the reference was still stored.
	ClearPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) (bool, error)

	ApplyPlatformSubscriptionEvent(ctx context.Context, evt PlatformSubscriptionEvent) error
	ApplyPayoutAccountEvent(ctx context.Context, evt PayoutAccountEvent) error
	ApplyUserSubscriptionEvent(ctx context.Context, evt UserSubscriptionEvent) error

	// ActiveSubscription returns the active subscription of the user to the
	// coach or an error matching ErrNotFound.
	ActiveSubscription(ctx context.Context, userID, coachID uuid.UUID) (*UserSubscription, error)
}
