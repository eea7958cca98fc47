// Package billing coordinates coach and user billing state with the payment
// provider, which is the source of truth; the local store is a cache of it.
//
// Three states evolve independently:
//
//   - a coach's platform subscription (none, active, past_due, canceled)
//   - a coach's payout account onboarding (not_created, pending, active)
//   - a user's subscription to a coach (active, canceled)
//
// Components:
//
//   - Provider: the payment provider surface. StripeProvider implements it on
//     Stripe Connect and also verifies webhooks (WebhookParser).
//   - Reconciler: on every status query, fetches the live payout account and
//     writes the derived status through a compare-and-swap when it changed.
//     Decide holds the pure decision.
//   - CheckoutFactory: validates preconditions and mints checkout sessions.
//     It never writes local state.
//   - Store: the sole writer of billing state. MemoryStore and pgstore.Store
//     implement it with per-entity watermarks so older events are rejected.
//   - Worker: applies decoded webhook events, one Store call per event.
//
// Service wires the components for the HTTP layer:
//
//	svc := billing.NewService(stripeProvider, stripeProvider, store, pricing,
//	    billing.WithLogger(log),
//	    billing.WithMetrics(billing.NewMetrics(prometheus.DefaultRegisterer)),
//	    billing.WithDeduper(billing.NewRedisDeduper(redisClient, 0)),
//	)
//
// Errors match one of the kinds ErrValidation, ErrAuthorization, ErrNotFound,
// ErrProviderUnavailable, ErrProviderRejected or ErrStaleEvent with errors.Is.
package billing
