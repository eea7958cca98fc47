package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/time/rate"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	APIKey        string        `env:"STRIPE_API_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	RateLimit     float64       `env:"STRIPE_RATE_LIMIT" envDefault:"20"`
	RateBurst     int           `env:"STRIPE_RATE_BURST" envDefault:"5"`
	AccountType   string        `env:"STRIPE_ACCOUNT_TYPE" envDefault:"express"`
}

// stripeCalls are the Stripe endpoints used by the adapter.
type stripeCalls struct {
	newAccount         func(*stripe.AccountParams) (*stripe.Account, error)
	getAccount         func(string, *stripe.AccountParams) (*stripe.Account, error)
	newAccountLink     func(*stripe.AccountLinkParams) (*stripe.AccountLink, error)
	newCheckoutSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProvider implements Provider and WebhookParser on Stripe Connect.
// It owns its API client; the package-level stripe.Key is never set.
type StripeProvider struct {
	cfg     StripeConfig
	calls   stripeCalls
	limiter *rate.Limiter
	opts    options
}

var (
	_ Provider      = (*StripeProvider)(nil)
	_ WebhookParser = (*StripeProvider)(nil)
)

func NewStripeProvider(cfg StripeConfig, opts ...Option) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	api := client.New(cfg.APIKey, stripe.NewBackends(&http.Client{Timeout: cfg.Timeout}))
	return newStripeProvider(cfg, stripeCalls{
		newAccount:         api.Accounts.New,
		getAccount:         api.Accounts.GetByID,
		newAccountLink:     api.AccountLinks.New,
		newCheckoutSession: api.CheckoutSessions.New,
	}, opts...), nil
}

func newStripeProvider(cfg StripeConfig, calls stripeCalls, opts ...Option) *StripeProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AccountType == "" {
		cfg.AccountType = string(stripe.AccountTypeExpress)
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &StripeProvider{
		cfg:     cfg,
		calls:   calls,
		limiter: rate.NewLimiter(limit, burst),
		opts:    newOptions(opts),
	}
}

func (p *StripeProvider) CreatePayoutAccount(ctx context.Context, req PayoutAccountRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	params := &stripe.AccountParams{
		Type: stripe.String(p.cfg.AccountType),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Country != "" {
		params.Country = stripe.String(req.Country)
	}
	params.AddMetadata(MetaCoachID, req.CoachID.String())
	// One account per coach even when the request is retried.
	params.SetIdempotencyKey("payout-account-" + req.CoachID.String())

	var acct *stripe.Account
	err := p.call(ctx, "create_account", &params.Params, func() (err error) {
		acct, err = p.calls.newAccount(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

func (p *StripeProvider) RetrievePayoutAccount(ctx context.Context, accountID string) (*PayoutAccount, error) {
	if accountID == "" {
		return nil, validationError(ErrMissingAccountID)
	}

	params := &stripe.AccountParams{}
	var acct *stripe.Account
	err := p.call(ctx, "retrieve_account", &params.Params, func() (err error) {
		acct, err = p.calls.getAccount(accountID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &PayoutAccount{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
		Country:          acct.Country,
	}
	if acct.Created > 0 {
		out.CreatedAt = time.Unix(acct.Created, 0).UTC()
	}
	return out, nil
}

func (p *StripeProvider) CreateOnboardingLink(ctx context.Context, req OnboardingLinkRequest) (*OnboardingLink, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(req.AccountID),
		RefreshURL: stripe.String(req.RefreshURL),
		ReturnURL:  stripe.String(req.ReturnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	var link *stripe.AccountLink
	err := p.call(ctx, "create_account_link", &params.Params, func() (err error) {
		link, err = p.calls.newAccountLink(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &OnboardingLink{URL: link.URL, ExpiresAt: time.Unix(link.ExpiresAt, 0).UTC()}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	lineItems := []*stripe.CheckoutSessionLineItemParams{
		{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
	}
	if req.SetupFeePriceID != "" {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(req.SetupFeePriceID),
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems:  lineItems,
		Metadata:   req.Metadata,
		// Subscription events carry their own copy of the metadata, so they can
		// be routed without the session.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.Destination != "" {
		params.SubscriptionData.TransferData = &stripe.CheckoutSessionSubscriptionDataTransferDataParams{
			Destination: stripe.String(req.Destination),
		}
		if req.ApplicationFeePercent > 0 {
			params.SubscriptionData.ApplicationFeePercent = stripe.Float64(req.ApplicationFeePercent)
		}
	}

	var s *stripe.CheckoutSession
	err := p.call(ctx, "create_checkout_session", &params.Params, func() (err error) {
		s, err = p.calls.newCheckoutSession(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL, ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC()}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	return decodeStripeEvent(evt)
}

// call runs fn under the rate limiter and a bounded timeout, then classifies
// any failure.
func (p *StripeProvider) call(ctx context.Context, op string, params *stripe.Params, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return &ProviderError{Op: op, Kind: ErrProviderUnavailable, Err: err}
	}
	params.Context = ctx

	start := time.Now()
	err := fn()
	p.opts.metrics.observeProvider(op, time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Join(err, ctxErr)
	}
	return classifyStripeError(op, err)
}

// classifyStripeError maps a Stripe failure to a ProviderError kind.
// Missing resources count as ErrAccountNotFound only on account lookups.
func classifyStripeError(op string, err error) error {
	kind := ErrProviderUnavailable

	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= http.StatusInternalServerError:
			kind = ErrProviderUnavailable
		case isAccountOp(op) && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing):
			kind = ErrAccountNotFound
		case se.HTTPStatusCode >= http.StatusBadRequest:
			kind = ErrProviderRejected
		}
	}
	return &ProviderError{Op: op, Kind: kind, Err: err}
}

func isAccountOp(op string) bool {
	return op == "retrieve_account" || op == "create_account_link"
}

func parseMetaUUID(meta map[string]string, key string) uuid.UUID {
	id, err := uuid.Parse(meta[key])
	if err != nil {
		return uuid.Nil
	}
	return id
}
