// Package storetest is a conformance suite for billing.Store implementations.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/pkg/billing"
)

// Store is a billing.Store that can also be seeded and inspected.
type Store interface {
	billing.Store
	CreateCoach(ctx context.Context, c billing.Coach) error
	AssignCoach(ctx context.Context, userID, coachID uuid.UUID) error
	Subscriptions(ctx context.Context, userID, coachID uuid.UUID) ([]billing.UserSubscription, error)
}

// Run executes the suite. newStore may return a shared store; every case
// works on fresh ids.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("coach lookups", func(t *testing.T) { testCoachLookups(t, newStore(t)) })
	t.Run("payout account reference", func(t *testing.T) { testPayoutAccountReference(t, newStore(t)) })
	t.Run("payout compare and swap", func(t *testing.T) { testPayoutCompareAndSwap(t, newStore(t)) })
	t.Run("payout account events", func(t *testing.T) { testPayoutAccountEvents(t, newStore(t)) })
	t.Run("platform subscription events", func(t *testing.T) { testPlatformEvents(t, newStore(t)) })
	t.Run("user subscription events", func(t *testing.T) { testUserEvents(t, newStore(t)) })
	t.Run("platform cancel within the same second", func(t *testing.T) { testPlatformCancelSameSecond(t, newStore(t)) })
	t.Run("delayed activation of an older subscription", func(t *testing.T) { testDelayedActivation(t, newStore(t)) })
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func suffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func seedCoach(t *testing.T, s Store, mutate ...func(*billing.Coach)) billing.Coach {
	t.Helper()
	c := billing.Coach{
		ID:          uuid.New(),
		ProfileID:   uuid.New(),
		Slug:        "coach-" + suffix(),
		DisplayName: "Test Coach",
		Email:       "coach@coachkit.test",
		Country:     "US",
	}
	for _, fn := range mutate {
		fn(&c)
	}
	require.NoError(t, s.CreateCoach(context.Background(), c))
	return c
}

func testCoachLookups(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s, func(c *billing.Coach) { c.UserPriceID = "price_custom" })

	got, err := s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Slug, got.Slug)
	assert.Equal(t, "price_custom", got.UserPriceID)
	assert.Equal(t, billing.PlatformStatusNone, got.PlatformStatus)
	assert.Equal(t, billing.PayoutStatusNotCreated, got.PayoutStatus)
	assert.Nil(t, got.PlatformEventAt)

	got, err = s.GetCoachBySlug(ctx, c.Slug)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = s.GetCoach(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = s.GetCoachBySlug(ctx, "missing-"+suffix())
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = s.GetCoachByPayoutAccount(ctx, "acct_"+suffix())
	assert.ErrorIs(t, err, billing.ErrNotFound)

	err = s.CreateCoach(ctx, billing.Coach{ID: uuid.New(), ProfileID: uuid.New(), Slug: c.Slug})
	assert.ErrorIs(t, err, billing.ErrDuplicateCoach)

	userID := uuid.New()
	assigned, err := s.AssignedCoachID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, assigned)

	require.NoError(t, s.AssignCoach(ctx, userID, c.ID))
	assigned, err = s.AssignedCoachID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, assigned)
}

func testPayoutAccountReference(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)
	acct := "acct_" + suffix()

	require.NoError(t, s.SetPayoutAccount(ctx, c.ID, acct))
	err := s.SetPayoutAccount(ctx, c.ID, "acct_"+suffix())
	assert.ErrorIs(t, err, billing.ErrPayoutAccountExists)
	assert.ErrorIs(t, s.SetPayoutAccount(ctx, uuid.New(), "acct_"+suffix()), billing.ErrNotFound)

	got, err := s.GetCoachByPayoutAccount(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, billing.PayoutStatusPending, got.PayoutStatus)

	cleared, err := s.ClearPayoutAccount(ctx, c.ID, "acct_other")
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = s.ClearPayoutAccount(ctx, c.ID, acct)
	require.NoError(t, err)
	assert.True(t, cleared)

	got, err = s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PayoutAccountID)
	assert.Equal(t, billing.PayoutStatusNotCreated, got.PayoutStatus)

	require.NoError(t, s.SetPayoutAccount(ctx, c.ID, "acct_"+suffix()))
}

func testPayoutCompareAndSwap(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)
	acct := "acct_" + suffix()
	require.NoError(t, s.SetPayoutAccount(ctx, c.ID, acct))

	upd := billing.PayoutStatusUpdate{
		CoachID:    c.ID,
		AccountID:  acct,
		Expected:   billing.PayoutStatusPending,
		Next:       billing.PayoutStatusActive,
		ObservedAt: at(10),
	}

	wrongAccount := upd
	wrongAccount.AccountID = "acct_other"
	ok, err := s.CompareAndSwapPayoutStatus(ctx, wrongAccount)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwapPayoutStatus(ctx, upd)
	require.NoError(t, err)
	assert.True(t, ok)

	// Expected value no longer matches.
	ok, err = s.CompareAndSwapPayoutStatus(ctx, upd)
	require.NoError(t, err)
	assert.False(t, ok)

	older := billing.PayoutStatusUpdate{
		CoachID:    c.ID,
		AccountID:  acct,
		Expected:   billing.PayoutStatusActive,
		Next:       billing.PayoutStatusPending,
		ObservedAt: at(5),
	}
	ok, err = s.CompareAndSwapPayoutStatus(ctx, older)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PayoutStatusActive, got.PayoutStatus)
	require.NotNil(t, got.PayoutEventAt)
	assert.True(t, at(10).Equal(*got.PayoutEventAt))
}

func testPayoutAccountEvents(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)
	acct := "acct_" + suffix()
	require.NoError(t, s.SetPayoutAccount(ctx, c.ID, acct))

	require.NoError(t, s.ApplyPayoutAccountEvent(ctx, billing.PayoutAccountEvent{AccountID: acct, Status: billing.PayoutStatusActive, OccurredAt: at(20)}))

	err := s.ApplyPayoutAccountEvent(ctx, billing.PayoutAccountEvent{AccountID: acct, Status: billing.PayoutStatusPending, OccurredAt: at(10)})
	var stale *billing.StaleEventError
	require.ErrorAs(t, err, &stale)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	got, err := s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PayoutStatusActive, got.PayoutStatus)

	// Same timestamp is a redelivery and applies again.
	require.NoError(t, s.ApplyPayoutAccountEvent(ctx, billing.PayoutAccountEvent{AccountID: acct, Status: billing.PayoutStatusActive, OccurredAt: at(20)}))

	err = s.ApplyPayoutAccountEvent(ctx, billing.PayoutAccountEvent{AccountID: "acct_" + suffix(), Status: billing.PayoutStatusActive, OccurredAt: at(30)})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func testPlatformEvents(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)

	apply := func(status billing.PlatformStatus, subID string, sec int) error {
		return s.ApplyPlatformSubscriptionEvent(ctx, billing.PlatformSubscriptionEvent{
			CoachID:        c.ID,
			Status:         status,
			SubscriptionID: subID,
			CustomerID:     "cus_1",
			OccurredAt:     at(sec),
		})
	}

	require.NoError(t, apply(billing.PlatformStatusActive, "sub_1", 10))
	require.NoError(t, apply(billing.PlatformStatusActive, "sub_1", 10))
	require.NoError(t, apply(billing.PlatformStatusPastDue, "sub_1", 20))

	err := apply(billing.PlatformStatusActive, "sub_1", 15)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	// Events of a replaced subscription do not touch the current one.
	require.NoError(t, apply(billing.PlatformStatusActive, "sub_2", 30))
	err = apply(billing.PlatformStatusCanceled, "sub_1", 40)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	got, err := s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformStatusActive, got.PlatformStatus)
	assert.Equal(t, "sub_2", got.PlatformSubscriptionID)
	assert.Equal(t, "cus_1", got.ProviderCustomerID)
	require.NotNil(t, got.PlatformEventAt)
	assert.True(t, at(30).Equal(*got.PlatformEventAt))

	err = s.ApplyPlatformSubscriptionEvent(ctx, billing.PlatformSubscriptionEvent{CoachID: uuid.New(), Status: billing.PlatformStatusActive, OccurredAt: at(1)})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func testUserEvents(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)
	other := seedCoach(t, s)
	userID := uuid.New()

	apply := func(coachID uuid.UUID, subID string, status billing.SubscriptionStatus, sec int) error {
		end := at(sec + 3600)
		return s.ApplyUserSubscriptionEvent(ctx, billing.UserSubscriptionEvent{
			UserID:           userID,
			CoachID:          coachID,
			SubscriptionID:   subID,
			Status:           status,
			CurrentPeriodEnd: &end,
			OccurredAt:       at(sec),
		})
	}
	rows := func(coachID uuid.UUID) []billing.UserSubscription {
		out, err := s.Subscriptions(ctx, userID, coachID)
		require.NoError(t, err)
		return out
	}

	require.NoError(t, apply(c.ID, "sub_a", billing.SubscriptionStatusActive, 10))
	require.NoError(t, apply(c.ID, "sub_a", billing.SubscriptionStatusActive, 10))
	require.Len(t, rows(c.ID), 1)

	require.NoError(t, apply(other.ID, "sub_o", billing.SubscriptionStatusActive, 11))

	// Resubscription closes the previous active row.
	require.NoError(t, apply(c.ID, "sub_b", billing.SubscriptionStatusActive, 20))
	active, err := s.ActiveSubscription(ctx, userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_b", active.ProviderSubscriptionID)
	assert.Len(t, rows(c.ID), 2)

	otherActive, err := s.ActiveSubscription(ctx, userID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_o", otherActive.ProviderSubscriptionID)

	// Canceled rows are terminal and keep the first canceled_at.
	require.NoError(t, apply(c.ID, "sub_b", billing.SubscriptionStatusCanceled, 30))
	require.NoError(t, apply(c.ID, "sub_b", billing.SubscriptionStatusCanceled, 40))
	err = apply(c.ID, "sub_b", billing.SubscriptionStatusActive, 50)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)

	for _, r := range rows(c.ID) {
		assert.Equal(t, billing.SubscriptionStatusCanceled, r.Status)
		require.NotNil(t, r.CanceledAt)
		if r.ProviderSubscriptionID == "sub_b" {
			assert.True(t, at(30).Equal(*r.CanceledAt))
		}
	}
	_, err = s.ActiveSubscription(ctx, userID, c.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	// Cancel delivered before the checkout completion.
	require.NoError(t, apply(c.ID, "sub_c", billing.SubscriptionStatusCanceled, 70))
	err = apply(c.ID, "sub_c", billing.SubscriptionStatusActive, 60)
	assert.True(t, errors.Is(err, billing.ErrStaleEvent))
	_, err = s.ActiveSubscription(ctx, userID, c.ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	err = apply(uuid.New(), "sub_x", billing.SubscriptionStatusActive, 80)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func testPlatformCancelSameSecond(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)

	apply := func(status billing.PlatformStatus, subID string, sec int) error {
		return s.ApplyPlatformSubscriptionEvent(ctx, billing.PlatformSubscriptionEvent{
			CoachID:        c.ID,
			Status:         status,
			SubscriptionID: subID,
			OccurredAt:     at(sec),
		})
	}

	require.NoError(t, apply(billing.PlatformStatusActive, "sub_1", 1))
	require.NoError(t, apply(billing.PlatformStatusCanceled, "sub_1", 5))

	err := apply(billing.PlatformStatusActive, "sub_1", 5)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)
	err = apply(billing.PlatformStatusPastDue, "", 5)
	assert.ErrorIs(t, err, billing.ErrStaleEvent)
	require.NoError(t, apply(billing.PlatformStatusCanceled, "sub_1", 5))

	got, err := s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformStatusCanceled, got.PlatformStatus)
	assert.False(t, got.AcceptsSubscriptions())

	// A new subscription in the same second still activates the coach.
	require.NoError(t, apply(billing.PlatformStatusActive, "sub_2", 5))
	got, err = s.GetCoach(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlatformStatusActive, got.PlatformStatus)
	assert.Equal(t, "sub_2", got.PlatformSubscriptionID)
}

func testDelayedActivation(t *testing.T, s Store) {
	ctx := context.Background()
	c := seedCoach(t, s)
	userID := uuid.New()

	apply := func(subID string, status billing.SubscriptionStatus, sec int) error {
		return s.ApplyUserSubscriptionEvent(ctx, billing.UserSubscriptionEvent{
			UserID:         userID,
			CoachID:        c.ID,
			SubscriptionID: subID,
			Status:         status,
			OccurredAt:     at(sec),
		})
	}

	require.NoError(t, apply("sub_x", billing.SubscriptionStatusActive, 4))
	require.NoError(t, apply("sub_y", billing.SubscriptionStatusActive, 1))
	require.NoError(t, apply("sub_y", billing.SubscriptionStatusCanceled, 3))
	require.NoError(t, apply("sub_x", billing.SubscriptionStatusActive, 5))

	active, err := s.ActiveSubscription(ctx, userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_x", active.ProviderSubscriptionID)
	assert.Nil(t, active.CanceledAt)
	assert.True(t, at(5).Equal(active.LastEventAt))

	rows, err := s.Subscriptions(ctx, userID, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.ProviderSubscriptionID != "sub_y" {
			continue
		}
		assert.Equal(t, billing.SubscriptionStatusCanceled, r.Status)
		require.NotNil(t, r.CanceledAt)
		assert.True(t, at(1).Equal(*r.CanceledAt))
	}
}
