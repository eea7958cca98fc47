package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/coachkit/handler"
	"github.com/dmitrymomot/coachkit/pkg/billing"
)

// Service is the billing surface the router exposes.
type Service interface {
	PayoutAccountStatus(ctx context.Context, id billing.Identity) (billing.AccountStatus, error)
	StartPayoutOnboarding(ctx context.Context, id billing.Identity) (*billing.OnboardingLink, error)
	CreateCheckout(ctx context.Context, id billing.Identity, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// IdentityFunc resolves the authenticated caller of a request.
type IdentityFunc func(r *http.Request) (billing.Identity, error)

var ErrUnauthenticated = errors.New("unauthenticated")

// SignatureHeader carries the provider webhook signature.
const SignatureHeader = "Stripe-Signature"

const maxWebhookBody = 512 << 10

type RouterOptions struct {
	Service  Service
	Identity IdentityFunc
	Logger   *slog.Logger
}

// errorMappings orders billing error kinds by precedence.
var errorMappings = []handler.ErrorMapping{
	{Target: ErrUnauthenticated, Status: handler.ErrUnauthorized},
	{Target: billing.ErrInvalidSignature, Status: handler.ErrBadRequest},
	{Target: billing.ErrValidation, Status: handler.ErrUnprocessableEntity},
	{Target: billing.ErrAuthorization, Status: handler.ErrForbidden},
	{Target: billing.ErrNotFound, Status: handler.ErrNotFound},
	{Target: billing.ErrProviderUnavailable, Status: handler.ErrServiceUnavailable},
	{Target: billing.ErrProviderRejected, Status: handler.ErrBadGateway},
}

// Router mounts the payout account, checkout and webhook endpoints.
// Panics if Service or Identity is missing.
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//		Service:  svc,
//		Identity: billing.HeaderIdentity(),
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("billing: router requires a service")
	}
	if opts.Identity == nil {
		panic("billing: router requires an identity func")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: opts.Service, identity: opts.Identity}
	onError := handler.NewErrorHandler[handler.Context](log, errorMappings...)

	r := chi.NewRouter()
	r.Get("/payout-account", handler.Wrap(h.payoutStatus,
		handler.WithErrorHandler[handler.Context, struct{}](onError),
	))
	r.Post("/payout-account", handler.Wrap(h.startOnboarding,
		handler.WithErrorHandler[handler.Context, struct{}](onError),
	))
	r.Post("/checkout", handler.Wrap(h.checkout,
		handler.WithBinders[handler.Context, billing.CheckoutRequest](handler.BindJSON()),
		handler.WithErrorHandler[handler.Context, billing.CheckoutRequest](onError),
	))
	r.Post("/webhook", handler.Wrap(h.webhook,
		handler.WithErrorHandler[handler.Context, struct{}](onError),
	))
	return r
}
