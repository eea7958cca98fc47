package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func testStripeProvider(calls stripeCalls) *StripeProvider {
	return newStripeProvider(StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       time.Second,
	}, calls)
}

func TestNewStripeProvider(t *testing.T) {
	t.Parallel()

	_, err := NewStripeProvider(StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewStripeProvider(StripeConfig{APIKey: "sk_test"})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)

	p, err := NewStripeProvider(StripeConfig{APIKey: "sk_test", WebhookSecret: "whsec"})
	require.NoError(t, err)
	assert.NotNil(t, p.calls.getAccount)
	assert.Empty(t, stripe.Key)
}

func TestClassifyStripeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   string
		err  error
		want error
	}{
		{"missing account", "retrieve_account", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}, ErrAccountNotFound},
		{"missing resource on link", "create_account_link", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeResourceMissing}, ErrAccountNotFound},
		{"missing price on checkout", "create_checkout_session", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeResourceMissing}, ErrProviderRejected},
		{"bad request", "create_account", &stripe.Error{HTTPStatusCode: http.StatusBadRequest}, ErrProviderRejected},
		{"rate limited", "retrieve_account", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, ErrProviderUnavailable},
		{"server error", "create_checkout_session", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, ErrProviderUnavailable},
		{"timeout", "retrieve_account", fmt.Errorf("request: %w", context.DeadlineExceeded), ErrProviderUnavailable},
		{"transport", "retrieve_account", errors.New("connection reset"), ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyStripeError(tt.op, tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStripeProvider_CreateCheckoutSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("user session routes funds to connected account", func(t *testing.T) {
		t.Parallel()
		var got *stripe.CheckoutSessionParams
		p := testStripeProvider(stripeCalls{
			newCheckoutSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
				got = params
				return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1", ExpiresAt: 1700000000}, nil
			},
		})

		meta := map[string]string{MetaKind: "user", MetaUserID: uuid.NewString(), MetaCoachID: uuid.NewString()}
		session, err := p.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			Kind:                  CheckoutKindUser,
			PriceID:               "price_user",
			Destination:           "acct_live",
			ApplicationFeePercent: 12.5,
			SuccessURL:            "https://coachkit.test/ok",
			CancelURL:             "https://coachkit.test/cancel",
			Metadata:              meta,
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", session.ID)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), session.ExpiresAt)

		require.NotNil(t, got)
		assert.Equal(t, "subscription", *got.Mode)
		require.Len(t, got.LineItems, 1)
		assert.Equal(t, "price_user", *got.LineItems[0].Price)
		assert.Equal(t, meta, got.Metadata)
		assert.Equal(t, meta, got.SubscriptionData.Metadata)
		assert.Equal(t, "acct_live", *got.SubscriptionData.TransferData.Destination)
		assert.InDelta(t, 12.5, *got.SubscriptionData.ApplicationFeePercent, 0.0001)
		assert.NotNil(t, got.Context)
	})

	t.Run("coach session adds the setup fee", func(t *testing.T) {
		t.Parallel()
		var got *stripe.CheckoutSessionParams
		p := testStripeProvider(stripeCalls{
			newCheckoutSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
				got = params
				return &stripe.CheckoutSession{ID: "cs_2"}, nil
			},
		})

		_, err := p.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			Kind:            CheckoutKindCoach,
			PriceID:         "price_monthly",
			SetupFeePriceID: "price_setup",
			CustomerEmail:   "coach@coachkit.test",
			SuccessURL:      "https://coachkit.test/ok",
			CancelURL:       "https://coachkit.test/cancel",
			Metadata:        map[string]string{MetaKind: "coach", MetaCoachID: uuid.NewString(), MetaProfileID: uuid.NewString()},
		})
		require.NoError(t, err)
		require.Len(t, got.LineItems, 2)
		assert.Equal(t, "price_setup", *got.LineItems[1].Price)
		assert.Equal(t, "coach@coachkit.test", *got.CustomerEmail)
		assert.Nil(t, got.SubscriptionData.TransferData)
	})

	t.Run("incomplete metadata never reaches stripe", func(t *testing.T) {
		t.Parallel()
		called := false
		p := testStripeProvider(stripeCalls{
			newCheckoutSession: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
				called = true
				return nil, nil
			},
		})

		_, err := p.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			Kind:       CheckoutKindUser,
			PriceID:    "price_user",
			SuccessURL: "https://coachkit.test/ok",
			CancelURL:  "https://coachkit.test/cancel",
			Metadata:   map[string]string{MetaCoachID: uuid.NewString()},
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.ErrorIs(t, err, ErrMissingMetadata)
		assert.False(t, called)
	})
}

func TestStripeProvider_PayoutAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create requests card payments and transfers", func(t *testing.T) {
		t.Parallel()
		coachID := uuid.New()
		var got *stripe.AccountParams
		p := testStripeProvider(stripeCalls{
			newAccount: func(params *stripe.AccountParams) (*stripe.Account, error) {
				got = params
				return &stripe.Account{ID: "acct_new"}, nil
			},
		})

		id, err := p.CreatePayoutAccount(ctx, PayoutAccountRequest{CoachID: coachID, Email: "c@coachkit.test", Country: "DE"})
		require.NoError(t, err)
		assert.Equal(t, "acct_new", id)
		assert.Equal(t, "express", *got.Type)
		assert.Equal(t, "DE", *got.Country)
		assert.True(t, *got.Capabilities.CardPayments.Requested)
		assert.True(t, *got.Capabilities.Transfers.Requested)
		assert.Equal(t, "payout-account-"+coachID.String(), *got.IdempotencyKey)
	})

	t.Run("create without coach id", func(t *testing.T) {
		t.Parallel()
		p := testStripeProvider(stripeCalls{})
		_, err := p.CreatePayoutAccount(ctx, PayoutAccountRequest{})
		assert.ErrorIs(t, err, ErrMissingCoachID)
	})

	t.Run("retrieve maps capabilities", func(t *testing.T) {
		t.Parallel()
		p := testStripeProvider(stripeCalls{
			getAccount: func(id string, _ *stripe.AccountParams) (*stripe.Account, error) {
				return &stripe.Account{ID: id, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true, Country: "US", Created: 1700000000}, nil
			},
		})

		acct, err := p.RetrievePayoutAccount(ctx, "acct_1")
		require.NoError(t, err)
		assert.Equal(t, PayoutStatusActive, DerivePayoutStatus(acct))
		assert.Equal(t, "US", acct.Country)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), acct.CreatedAt)
	})

	t.Run("retrieve unknown account", func(t *testing.T) {
		t.Parallel()
		p := testStripeProvider(stripeCalls{
			getAccount: func(string, *stripe.AccountParams) (*stripe.Account, error) {
				return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}
			},
		})

		_, err := p.RetrievePayoutAccount(ctx, "acct_gone")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("onboarding link", func(t *testing.T) {
		t.Parallel()
		var got *stripe.AccountLinkParams
		p := testStripeProvider(stripeCalls{
			newAccountLink: func(params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
				got = params
				return &stripe.AccountLink{URL: "https://connect.stripe.test/setup", ExpiresAt: 1700000300}, nil
			},
		})

		link, err := p.CreateOnboardingLink(ctx, OnboardingLinkRequest{
			AccountID:  "acct_1",
			RefreshURL: "https://coachkit.test/refresh",
			ReturnURL:  "https://coachkit.test/return",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://connect.stripe.test/setup", link.URL)
		assert.Equal(t, "account_onboarding", *got.Type)
		assert.Equal(t, "acct_1", *got.Account)
	})
}

func signedPayload(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()
	p := testStripeProvider(stripeCalls{})
	coachID := uuid.New()
	userID := uuid.New()

	t.Run("checkout completed", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedPayload(t, fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1700000000,
			"data":{"object":{"id":"cs_1","mode":"subscription","customer":"cus_1","subscription":"sub_1",
			"metadata":{"kind":"user","user_id":%q,"coach_id":%q}}}}`, userID, coachID))

		evt, err := p.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, EventCheckoutCompleted, evt.Type)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), evt.OccurredAt)
		assert.Equal(t, CheckoutKindUser, evt.Kind)
		assert.Equal(t, userID, evt.UserID)
		assert.Equal(t, coachID, evt.CoachID)
		assert.Equal(t, "sub_1", evt.SubscriptionID)
		assert.Equal(t, "cus_1", evt.CustomerID)
	})

	t.Run("subscription deleted with item period end", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedPayload(t, fmt.Sprintf(`{"id":"evt_2","object":"event","type":"customer.subscription.deleted","created":1700000100,
			"data":{"object":{"id":"sub_1","customer":{"id":"cus_1"},"status":"canceled","canceled_at":1700000050,
			"items":{"data":[{"current_period_end":1702592000}]},
			"metadata":{"kind":"coach","coach_id":%q}}}}`, coachID))

		evt, err := p.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, EventSubscriptionCanceled, evt.Type)
		assert.Equal(t, "cus_1", evt.CustomerID)
		assert.Equal(t, "canceled", evt.Status)
		require.NotNil(t, evt.CanceledAt)
		assert.Equal(t, time.Unix(1700000050, 0).UTC(), *evt.CanceledAt)
		require.NotNil(t, evt.CurrentPeriodEnd)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), *evt.CurrentPeriodEnd)
		assert.Equal(t, CheckoutKindCoach, evt.Kind)
	})

	t.Run("account updated", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedPayload(t, `{"id":"evt_3","object":"event","type":"account.updated","created":1700000200,
			"data":{"object":{"id":"acct_1","charges_enabled":true,"payouts_enabled":false,"details_submitted":true,"country":"US"}}}`)

		evt, err := p.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, EventAccountUpdated, evt.Type)
		require.NotNil(t, evt.Account)
		assert.Equal(t, "acct_1", evt.Account.ID)
		assert.Equal(t, PayoutStatusPending, DerivePayoutStatus(evt.Account))
	})

	t.Run("unhandled type keeps its name", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedPayload(t, `{"id":"evt_4","object":"event","type":"invoice.paid","created":1700000300,"data":{"object":{"id":"in_1"}}}`)

		evt, err := p.ParseWebhook(payload, sig)
		require.NoError(t, err)
		assert.Equal(t, EventType("invoice.paid"), evt.Type)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		payload, _ := signedPayload(t, `{"id":"evt_5","object":"event","type":"account.updated"}`)

		_, err := p.ParseWebhook(payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}
