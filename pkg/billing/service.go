package billing

import (
	"context"
	"errors"

	"github.com/dmitrymomot/coachkit/pkg/logger"
)

// Service is the billing entry point used by the transport layer.
type Service struct {
	provider   Provider
	parser     WebhookParser
	store      Store
	pricing    Pricing
	reconciler *Reconciler
	checkout   *CheckoutFactory
	worker     *Worker
	opts       options
}

// NewService wires the reconciler, checkout factory and webhook worker around
// one provider and store. Panics on nil dependencies.
func NewService(provider Provider, parser WebhookParser, store Store, pricing Pricing, opts ...Option) *Service {
	if provider == nil {
		panic("billing: service requires a provider")
	}
	if parser == nil {
		panic("billing: service requires a webhook parser")
	}
	if store == nil {
		panic("billing: service requires a store")
	}
	return &Service{
		provider:   provider,
		parser:     parser,
		store:      store,
		pricing:    pricing,
		reconciler: NewReconciler(provider, store, opts...),
		checkout:   NewCheckoutFactory(provider, store, pricing, opts...),
		worker:     NewWorker(store, opts...),
		opts:       newOptions(opts),
	}
}

// PayoutAccountStatus reconciles and returns the caller's payout account status.
func (s *Service) PayoutAccountStatus(ctx context.Context, id Identity) (AccountStatus, error) {
	if !id.IsCoach() {
		return AccountStatus{}, authorizationError(ErrNotACoach)
	}
	return s.reconciler.ReconcileCoach(ctx, id.CoachID)
}

// StartPayoutOnboarding creates the coach's connected account when none is
// stored and returns a hosted onboarding link for it.
func (s *Service) StartPayoutOnboarding(ctx context.Context, id Identity) (*OnboardingLink, error) {
	if !id.IsCoach() {
		return nil, authorizationError(ErrNotACoach)
	}
	coach, err := s.store.GetCoach(ctx, id.CoachID)
	if err != nil {
		return nil, err
	}

	accountID := coach.PayoutAccountID
	if accountID == "" {
		email := coach.Email
		if email == "" {
			email = id.Email
		}
		accountID, err = s.provider.CreatePayoutAccount(ctx, PayoutAccountRequest{
			CoachID: coach.ID,
			Email:   email,
			Country: coach.Country,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.SetPayoutAccount(ctx, coach.ID, accountID); err != nil {
			if !errors.Is(err, ErrPayoutAccountExists) {
				return nil, err
			}
			// A concurrent request stored its account first; link that one.
			current, err := s.store.GetCoach(ctx, coach.ID)
			if err != nil {
				return nil, err
			}
			accountID = current.PayoutAccountID
		} else {
			s.opts.logger.InfoContext(ctx, "payout account created",
				logger.Component("onboarding"),
				logger.CoachID(coach.ID),
				logger.AccountID(accountID),
			)
		}
	}

	link, err := s.provider.CreateOnboardingLink(ctx, OnboardingLinkRequest{
		AccountID:  accountID,
		RefreshURL: s.pricing.Onboarding.RefreshURL,
		ReturnURL:  s.pricing.Onboarding.ReturnURL,
	})
	if errors.Is(err, ErrAccountNotFound) {
		if _, clearErr := s.store.ClearPayoutAccount(ctx, coach.ID, accountID); clearErr != nil {
			return nil, errors.Join(err, clearErr)
		}
	}
	return link, err
}

// CreateCheckout mints a checkout session for the caller.
func (s *Service) CreateCheckout(ctx context.Context, id Identity, req CheckoutRequest) (*CheckoutSession, error) {
	return s.checkout.Create(ctx, id, req)
}

// HandleWebhook verifies, decodes and applies a provider webhook delivery.
// A nil error means the delivery can be acknowledged. A signed delivery that
// cannot be decoded is acknowledged too: redelivery would fail the same way.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.parser.ParseWebhook(payload, signature)
	if errors.Is(err, ErrInvalidPayload) && !errors.Is(err, ErrInvalidSignature) {
		s.opts.logger.ErrorContext(ctx, "undecodable webhook acknowledged", logger.Component("webhook"), logger.Error(err))
		return nil
	}
	if err != nil {
		s.opts.logger.WarnContext(ctx, "webhook rejected", logger.Component("webhook"), logger.Error(err))
		return err
	}
	return s.worker.Handle(ctx, evt)
}
