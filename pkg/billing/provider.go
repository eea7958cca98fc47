package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider is the payment provider surface the billing core depends on.
// Implementations never touch local storage.
type Provider interface {
	// CreatePayoutAccount creates a connected account for the coach and
	// returns its reference.
	CreatePayoutAccount(ctx context.Context, req PayoutAccountRequest) (string, error)
	// RetrievePayoutAccount fetches the live state of a connected account.
	// A reference unknown to the provider yields an error matching ErrAccountNotFound.
	RetrievePayoutAccount(ctx context.Context, accountID string) (*PayoutAccount, error)
	// CreateOnboardingLink returns a hosted onboarding URL for the account.
	CreateOnboardingLink(ctx context.Context, req OnboardingLinkRequest) (*OnboardingLink, error)
	// CreateCheckoutSession mints a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}

// WebhookParser verifies and decodes provider webhook deliveries.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

type PayoutAccountRequest struct {
	CoachID uuid.UUID
	Email   string
	Country string
}

func (r PayoutAccountRequest) Validate() error {
	if r.CoachID == uuid.Nil {
		return validationError(ErrMissingCoachID)
	}
	return nil
}

// PayoutAccount is the provider's view of a connected account.
type PayoutAccount struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	Country          string
	CreatedAt        time.Time
}

// DerivePayoutStatus maps provider capabilities to a payout status.
// Only an account that can both charge and pay out is active.
func DerivePayoutStatus(acct *PayoutAccount) PayoutStatus {
	if acct == nil {
		return PayoutStatusNotCreated
	}
	if acct.ChargesEnabled && acct.PayoutsEnabled {
		return PayoutStatusActive
	}
	return PayoutStatusPending
}

type OnboardingLinkRequest struct {
	AccountID  string
	RefreshURL string
	ReturnURL  string
}

func (r OnboardingLinkRequest) Validate() error {
	var errs []error
	if r.AccountID == "" {
		errs = append(errs, ErrMissingAccountID)
	}
	if r.RefreshURL == "" || r.ReturnURL == "" {
		errs = append(errs, ErrMissingRedirectURL)
	}
	if len(errs) > 0 {
		return validationError(errs...)
	}
	return nil
}

type OnboardingLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CheckoutSessionRequest describes a subscription checkout.
// SetupFeePriceID adds a one-time line item (coach flow). Destination and
// ApplicationFeePercent route user revenue to a connected account.
type CheckoutSessionRequest struct {
	Kind                  CheckoutKind
	PriceID               string
	SetupFeePriceID       string
	CustomerEmail         string
	Destination           string
	ApplicationFeePercent float64
	SuccessURL            string
	CancelURL             string
	Metadata              map[string]string
}

// Validate checks the identity metadata each flow needs to correlate the
// resulting subscription back to local entities.
func (r CheckoutSessionRequest) Validate() error {
	var errs []error
	switch r.Kind {
	case CheckoutKindCoach:
		if r.Metadata[MetaCoachID] == "" || r.Metadata[MetaProfileID] == "" {
			errs = append(errs, ErrMissingMetadata)
		}
	case CheckoutKindUser:
		if r.Metadata[MetaCoachID] == "" || r.Metadata[MetaUserID] == "" {
			errs = append(errs, ErrMissingMetadata)
		}
	default:
		errs = append(errs, ErrUnknownCheckoutKind)
	}
	if r.PriceID == "" {
		errs = append(errs, ErrMissingPriceID)
	}
	if r.SuccessURL == "" || r.CancelURL == "" {
		errs = append(errs, ErrMissingRedirectURL)
	}
	if len(errs) > 0 {
		return validationError(errs...)
	}
	return nil
}

// CheckoutSession is a short-lived hosted checkout. It is never persisted.
type CheckoutSession struct {
	ID        string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
