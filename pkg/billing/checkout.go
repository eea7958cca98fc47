package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/coachkit/pkg/logger"
	"github.com/dmitrymomot/coachkit/pkg/validator"
)

// CheckoutRequest is the caller's checkout intent. CoachSlug selects the coach
// for user checkouts; without it the user's assigned coach is used.
type CheckoutRequest struct {
	Kind      CheckoutKind `json:"kind"`
	CoachSlug string       `json:"coachSlug,omitempty"`
}

func (r CheckoutRequest) Validate() error {
	err := validator.Apply(
		validator.OneOfString("kind", string(r.Kind), []string{string(CheckoutKindCoach), string(CheckoutKindUser)}),
		validator.When(r.CoachSlug != "", validator.ValidSlug("coachSlug", r.CoachSlug)),
		validator.When(r.CoachSlug != "", validator.MaxLen("coachSlug", r.CoachSlug, 64)),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// CheckoutFactory mints checkout sessions after checking local preconditions.
// It never mutates local state; the outcome arrives later as a webhook.
type CheckoutFactory struct {
	provider Provider
	store    Store
	pricing  Pricing
	opts     options
}

func NewCheckoutFactory(provider Provider, store Store, pricing Pricing, opts ...Option) *CheckoutFactory {
	if provider == nil {
		panic("billing: checkout factory requires a provider")
	}
	if store == nil {
		panic("billing: checkout factory requires a store")
	}
	return &CheckoutFactory{provider: provider, store: store, pricing: pricing, opts: newOptions(opts)}
}

// Create dispatches on the request kind.
func (f *CheckoutFactory) Create(ctx context.Context, id Identity, req CheckoutRequest) (*CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		session *CheckoutSession
		err     error
	)
	switch req.Kind {
	case CheckoutKindCoach:
		session, err = f.CoachCheckout(ctx, id)
	default:
		session, err = f.UserCheckout(ctx, id, req.CoachSlug)
	}

	if err != nil {
		f.opts.metrics.checkoutSession(req.Kind, checkoutResult(err))
		return nil, err
	}
	f.opts.metrics.checkoutSession(req.Kind, "created")
	return session, nil
}

// CoachCheckout starts the coach's platform subscription: a one-time setup
// fee plus the monthly platform price.
func (f *CheckoutFactory) CoachCheckout(ctx context.Context, id Identity) (*CheckoutSession, error) {
	if !id.IsCoach() {
		return nil, authorizationError(ErrNotACoach)
	}
	coach, err := f.store.GetCoach(ctx, id.CoachID)
	if err != nil {
		return nil, err
	}
	if coach.PlatformStatus == PlatformStatusActive {
		return nil, authorizationError(ErrCoachAlreadySubscribed)
	}

	email := coach.Email
	if email == "" {
		email = id.Email
	}
	profileID := coach.ProfileID
	if profileID == uuid.Nil {
		profileID = id.ProfileID
	}

	session, err := f.provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		Kind:            CheckoutKindCoach,
		PriceID:         f.pricing.Coach.MonthlyPriceID,
		SetupFeePriceID: f.pricing.Coach.SetupFeePriceID,
		CustomerEmail:   email,
		SuccessURL:      f.pricing.SuccessURL,
		CancelURL:       f.pricing.CancelURL,
		Metadata: map[string]string{
			MetaKind:      string(CheckoutKindCoach),
			MetaCoachID:   coach.ID.String(),
			MetaProfileID: profileID.String(),
		},
	})
	if err != nil {
		f.logFailure(ctx, err, logger.CoachID(coach.ID))
		return nil, err
	}
	return session, nil
}

// UserCheckout subscribes the user to a coach resolved by slug or by the
// user's assignment. The coach must hold an active platform subscription.
// Revenue is routed to the coach's payout account only once it is active;
// before that funds stay on the platform account.
func (f *CheckoutFactory) UserCheckout(ctx context.Context, id Identity, coachSlug string) (*CheckoutSession, error) {
	if id.UserID == uuid.Nil {
		return nil, validationError(ErrMissingUserID)
	}
	coach, err := f.resolveCoach(ctx, id.UserID, coachSlug)
	if err != nil {
		return nil, err
	}
	if !coach.AcceptsSubscriptions() {
		return nil, authorizationError(ErrCoachNotAcceptingSubscriptions)
	}

	priceID := coach.UserPriceID
	if priceID == "" {
		priceID = f.pricing.User.DefaultPriceID
	}

	req := CheckoutSessionRequest{
		Kind:          CheckoutKindUser,
		PriceID:       priceID,
		CustomerEmail: id.Email,
		SuccessURL:    f.pricing.SuccessURL,
		CancelURL:     f.pricing.CancelURL,
		Metadata: map[string]string{
			MetaKind:    string(CheckoutKindUser),
			MetaUserID:  id.UserID.String(),
			MetaCoachID: coach.ID.String(),
		},
	}
	if coach.CanReceivePayouts() {
		req.Destination = coach.PayoutAccountID
		req.ApplicationFeePercent = f.pricing.PlatformFeePercent
	}

	session, err := f.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		f.logFailure(ctx, err, logger.CoachID(coach.ID), logger.UserID(id.UserID))
		return nil, err
	}
	return session, nil
}

func (f *CheckoutFactory) resolveCoach(ctx context.Context, userID uuid.UUID, slug string) (*Coach, error) {
	if slug != "" {
		coach, err := f.store.GetCoachBySlug(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			return nil, notFoundError(ErrNoCoachFound)
		}
		return coach, err
	}

	coachID, err := f.store.AssignedCoachID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if coachID == uuid.Nil {
		return nil, notFoundError(ErrNoCoachFound)
	}
	coach, err := f.store.GetCoach(ctx, coachID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFoundError(ErrNoCoachFound)
	}
	return coach, err
}

func (f *CheckoutFactory) logFailure(ctx context.Context, err error, attrs ...any) {
	args := append([]any{logger.Component("checkout"), logger.Error(err)}, attrs...)
	if errors.Is(err, ErrProviderRejected) {
		f.opts.logger.ErrorContext(ctx, "provider rejected checkout session", args...)
		return
	}
	f.opts.logger.WarnContext(ctx, "checkout session not created", args...)
}

func checkoutResult(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrAuthorization):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrProviderRejected):
		return "provider_error"
	}
	return "error"
}
