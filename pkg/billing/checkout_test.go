package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/pkg/billing"
)

func TestCheckoutRequest_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, billing.CheckoutRequest{Kind: billing.CheckoutKindCoach}.Validate())
	assert.NoError(t, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "jane-doe"}.Validate())
	assert.ErrorIs(t, billing.CheckoutRequest{Kind: "admin"}.Validate(), billing.ErrValidation)
	assert.ErrorIs(t, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "Not A Slug"}.Validate(), billing.ErrValidation)
}

func TestCheckoutFactory_CoachCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("active coach is rejected without a provider call", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		coach := newCoach(t, mem, "active-coach", func(c *billing.Coach) {
			c.PlatformStatus = billing.PlatformStatusActive
		})
		provider := &mockProvider{}
		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))

		session, err := f.Create(ctx, billing.Identity{UserID: uuid.New(), CoachID: coach.ID}, billing.CheckoutRequest{Kind: billing.CheckoutKindCoach})
		require.Error(t, err)
		assert.Nil(t, session)
		assert.ErrorIs(t, err, billing.ErrAuthorization)
		assert.ErrorIs(t, err, billing.ErrCoachAlreadySubscribed)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("new coach gets setup fee and monthly price", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		coach := newCoach(t, mem, "new-coach")
		provider := &mockProvider{}
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutSessionRequest) bool {
			return req.Kind == billing.CheckoutKindCoach &&
				req.PriceID == "price_coach_monthly" &&
				req.SetupFeePriceID == "price_setup" &&
				req.CustomerEmail == "new-coach@coachkit.test" &&
				req.Destination == "" &&
				req.Metadata[billing.MetaKind] == "coach" &&
				req.Metadata[billing.MetaCoachID] == coach.ID.String() &&
				req.Metadata[billing.MetaProfileID] == coach.ProfileID.String()
		})).Return(&billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil).Once()

		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))
		session, err := f.Create(ctx, billing.Identity{UserID: uuid.New(), CoachID: coach.ID}, billing.CheckoutRequest{Kind: billing.CheckoutKindCoach})
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.test/cs_1", session.URL)
		provider.AssertExpectations(t)

		stored, err := mem.GetCoach(ctx, coach.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlatformStatusNone, stored.PlatformStatus)
	})

	t.Run("caller without a coach", func(t *testing.T) {
		t.Parallel()
		f := billing.NewCheckoutFactory(&mockProvider{}, billing.NewMemoryStore(), testPricing(), billing.WithLogger(discardLogger()))

		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindCoach})
		assert.ErrorIs(t, err, billing.ErrAuthorization)
		assert.ErrorIs(t, err, billing.ErrNotACoach)
	})
}

func TestCheckoutFactory_UserCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("past due coach does not accept subscriptions", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		newCoach(t, mem, "late-coach", func(c *billing.Coach) {
			c.PlatformStatus = billing.PlatformStatusPastDue
		})
		provider := &mockProvider{}
		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))

		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "late-coach"})
		assert.ErrorIs(t, err, billing.ErrAuthorization)
		assert.ErrorIs(t, err, billing.ErrCoachNotAcceptingSubscriptions)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("no slug and no assignment", func(t *testing.T) {
		t.Parallel()
		f := billing.NewCheckoutFactory(&mockProvider{}, billing.NewMemoryStore(), testPricing(), billing.WithLogger(discardLogger()))

		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser})
		assert.ErrorIs(t, err, billing.ErrNotFound)
		assert.ErrorIs(t, err, billing.ErrNoCoachFound)
	})

	t.Run("unknown slug", func(t *testing.T) {
		t.Parallel()
		f := billing.NewCheckoutFactory(&mockProvider{}, billing.NewMemoryStore(), testPricing(), billing.WithLogger(discardLogger()))

		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "nobody"})
		assert.ErrorIs(t, err, billing.ErrNoCoachFound)
	})

	t.Run("assigned coach without active payouts keeps funds on platform", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		coach := newCoach(t, mem, "assigned", func(c *billing.Coach) {
			c.PlatformStatus = billing.PlatformStatusActive
			c.PayoutAccountID = "acct_pending"
			c.PayoutStatus = billing.PayoutStatusPending
		})
		userID := uuid.New()
		require.NoError(t, mem.AssignCoach(ctx, userID, coach.ID))

		provider := &mockProvider{}
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutSessionRequest) bool {
			return req.Kind == billing.CheckoutKindUser &&
				req.PriceID == "price_user_default" &&
				req.SetupFeePriceID == "" &&
				req.Destination == "" &&
				req.ApplicationFeePercent == 0 &&
				req.Metadata[billing.MetaUserID] == userID.String() &&
				req.Metadata[billing.MetaCoachID] == coach.ID.String()
		})).Return(&billing.CheckoutSession{ID: "cs_2", URL: "https://checkout.test/cs_2"}, nil).Once()

		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))
		session, err := f.Create(ctx, billing.Identity{UserID: userID}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser})
		require.NoError(t, err)
		assert.Equal(t, "cs_2", session.ID)
		provider.AssertExpectations(t)
	})

	t.Run("active payouts route funds with platform fee", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		coach := newCoach(t, mem, "routed", func(c *billing.Coach) {
			c.PlatformStatus = billing.PlatformStatusActive
			c.PayoutAccountID = "acct_live"
			c.PayoutStatus = billing.PayoutStatusActive
			c.UserPriceID = "price_routed_monthly"
		})

		provider := &mockProvider{}
		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutSessionRequest) bool {
			return req.PriceID == "price_routed_monthly" &&
				req.Destination == "acct_live" &&
				req.ApplicationFeePercent == 15 &&
				req.Metadata[billing.MetaCoachID] == coach.ID.String()
		})).Return(&billing.CheckoutSession{ID: "cs_3", URL: "https://checkout.test/cs_3"}, nil).Once()

		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))
		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "routed"})
		require.NoError(t, err)
		provider.AssertExpectations(t)
	})

	t.Run("provider failure is returned", func(t *testing.T) {
		t.Parallel()
		mem := billing.NewMemoryStore()
		newCoach(t, mem, "flaky", func(c *billing.Coach) {
			c.PlatformStatus = billing.PlatformStatusActive
		})
		provider := &mockProvider{}
		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, &billing.ProviderError{Op: "create_checkout_session", Kind: billing.ErrProviderUnavailable, Err: errors.New("503")})

		f := billing.NewCheckoutFactory(provider, mem, testPricing(), billing.WithLogger(discardLogger()))
		_, err := f.Create(ctx, billing.Identity{UserID: uuid.New()}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser, CoachSlug: "flaky"})
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)

		var perr *billing.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.True(t, perr.Retryable())
	})

	t.Run("missing user", func(t *testing.T) {
		t.Parallel()
		f := billing.NewCheckoutFactory(&mockProvider{}, billing.NewMemoryStore(), testPricing(), billing.WithLogger(discardLogger()))

		_, err := f.Create(ctx, billing.Identity{}, billing.CheckoutRequest{Kind: billing.CheckoutKindUser})
		assert.ErrorIs(t, err, billing.ErrValidation)
	})
}
