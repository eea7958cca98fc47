package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/pkg/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreatePayoutAccount(ctx context.Context, req billing.PayoutAccountRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) RetrievePayoutAccount(ctx context.Context, accountID string) (*billing.PayoutAccount, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PayoutAccount), args.Error(1)
}

func (m *mockProvider) CreateOnboardingLink(ctx context.Context, req billing.OnboardingLinkRequest) (*billing.OnboardingLink, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.OnboardingLink), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

// countingStore records payout status writes made through the Store interface.
type countingStore struct {
	*billing.MemoryStore

	mu        sync.Mutex
	casCalls  int
	casWrites int
	beforeCAS func()
}

func (s *countingStore) CompareAndSwapPayoutStatus(ctx context.Context, upd billing.PayoutStatusUpdate) (bool, error) {
	s.mu.Lock()
	hook := s.beforeCAS
	s.beforeCAS = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	ok, err := s.MemoryStore.CompareAndSwapPayoutStatus(ctx, upd)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++
	if ok {
		s.casWrites++
	}
	return ok, err
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casWrites
}

func (s *countingStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casCalls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPricing() billing.Pricing {
	var p billing.Pricing
	p.Coach.SetupFeePriceID = "price_setup"
	p.Coach.MonthlyPriceID = "price_coach_monthly"
	p.User.DefaultPriceID = "price_user_default"
	p.PlatformFeePercent = 15
	p.SuccessURL = "https://coachkit.test/billing/success"
	p.CancelURL = "https://coachkit.test/billing/cancel"
	p.Onboarding.RefreshURL = "https://coachkit.test/billing/onboarding/refresh"
	p.Onboarding.ReturnURL = "https://coachkit.test/billing/onboarding/return"
	return p
}

func newCoach(t *testing.T, store *billing.MemoryStore, slug string, mutate ...func(*billing.Coach)) billing.Coach {
	t.Helper()
	c := billing.Coach{
		ID:        uuid.New(),
		ProfileID: uuid.New(),
		Slug:      slug,
		Email:     slug + "@coachkit.test",
		Country:   "US",
	}
	for _, fn := range mutate {
		fn(&c)
	}
	require.NoError(t, store.CreateCoach(context.Background(), c))
	return c
}

func subscriptions(t *testing.T, store *billing.MemoryStore, userID, coachID uuid.UUID) []billing.UserSubscription {
	t.Helper()
	rows, err := store.Subscriptions(context.Background(), userID, coachID)
	require.NoError(t, err)
	return rows
}

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}
