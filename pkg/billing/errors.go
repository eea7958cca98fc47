package billing

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by the package matches at most one of
// them with errors.Is; the transport maps kinds to status codes.
var (
	ErrValidation          = errors.New("billing: validation failed")
	ErrAuthorization       = errors.New("billing: operation not allowed")
	ErrNotFound            = errors.New("billing: not found")
	ErrProviderUnavailable = errors.New("billing: payment provider unavailable")
	ErrProviderRejected    = errors.New("billing: payment provider rejected request")
	ErrStaleEvent          = errors.New("billing: stale event")
)

var (
	ErrCoachNotFound                  = errors.New("coach not found")
	ErrNoCoachFound                   = errors.New("no coach found for checkout")
	ErrNotACoach                      = errors.New("identity does not own a coach")
	ErrCoachNotAcceptingSubscriptions = errors.New("coach is not accepting subscriptions")
	ErrCoachAlreadySubscribed         = errors.New("coach platform subscription is already active")
	ErrSubscriptionNotFound           = errors.New("subscription not found")
	ErrAccountNotFound                = errors.New("payout account not found at provider")
	ErrPayoutAccountExists            = errors.New("coach already has a payout account")
	ErrDuplicateCoach                 = errors.New("coach id or slug already exists")

	ErrMissingCoachID       = errors.New("coach id is required")
	ErrMissingUserID        = errors.New("user id is required")
	ErrMissingAccountID     = errors.New("payout account id is required")
	ErrMissingPriceID       = errors.New("price id is required")
	ErrMissingRedirectURL   = errors.New("redirect urls are required")
	ErrMissingMetadata      = errors.New("checkout metadata is incomplete")
	ErrUnknownCheckoutKind  = errors.New("unknown checkout kind")
	ErrInvalidPricing       = errors.New("invalid pricing configuration")
	ErrMissingAPIKey        = errors.New("stripe api key is required")
	ErrMissingWebhookSecret = errors.New("stripe webhook secret is required")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrInvalidPayload       = errors.New("webhook payload could not be decoded")
	ErrUnroutableEvent      = errors.New("event carries no routable metadata")
)

// ProviderError describes a failed provider call. It matches its kind
// (ErrProviderUnavailable, ErrProviderRejected or ErrAccountNotFound) and the
// underlying cause.
type ProviderError struct {
	Op   string
	Kind error
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing: provider %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the same call may succeed later.
func (e *ProviderError) Retryable() bool {
	return errors.Is(e.Kind, ErrProviderUnavailable)
}

// StaleEventError is returned by a Store when an event is older than the
// state already applied to the entity.
type StaleEventError struct {
	Entity     string
	Key        string
	OccurredAt time.Time
	Watermark  time.Time
}

func (e *StaleEventError) Error() string {
	if e.Watermark.IsZero() {
		return fmt.Sprintf("billing: stale event for %s %s at %s", e.Entity, e.Key, e.OccurredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("billing: stale event for %s %s: event at %s, state at %s",
		e.Entity, e.Key, e.OccurredAt.Format(time.RFC3339), e.Watermark.Format(time.RFC3339))
}

func (e *StaleEventError) Unwrap() error {
	return ErrStaleEvent
}

func validationError(errs ...error) error {
	return errors.Join(append([]error{ErrValidation}, errs...)...)
}

func notFoundError(errs ...error) error {
	return errors.Join(append([]error{ErrNotFound}, errs...)...)
}

func authorizationError(errs ...error) error {
	return errors.Join(append([]error{ErrAuthorization}, errs...)...)
}

// NotFound wraps err so it matches ErrNotFound. Store implementations use it
// for missing rows.
func NotFound(err error) error {
	return notFoundError(err)
}
