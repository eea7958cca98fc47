package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/coachkit/pkg/logger"
)

// Decide compares the cached payout status with the one derived from the
// provider. The provider always wins; a write is needed only on change.
func Decide(cached, observed PayoutStatus) (next PayoutStatus, shouldWrite bool) {
	return observed, cached != observed
}

// Reconciler keeps the cached payout account status in line with the provider.
type Reconciler struct {
	provider Provider
	store    Store
	group    singleflight.Group
	opts     options
}

func NewReconciler(provider Provider, store Store, opts ...Option) *Reconciler {
	if provider == nil {
		panic("billing: reconciler requires a provider")
	}
	if store == nil {
		panic("billing: reconciler requires a store")
	}
	return &Reconciler{provider: provider, store: store, opts: newOptions(opts)}
}

// ReconcileCoach loads the coach and reconciles its payout account.
func (r *Reconciler) ReconcileCoach(ctx context.Context, coachID uuid.UUID) (AccountStatus, error) {
	if coachID == uuid.Nil {
		return AccountStatus{}, validationError(ErrMissingCoachID)
	}
	coach, err := r.store.GetCoach(ctx, coachID)
	if err != nil {
		return AccountStatus{}, err
	}
	return r.Reconcile(ctx, coach)
}

// Reconcile fetches the live account state and writes the derived status when
// it differs from the cached one. Provider failures degrade to the cached
// status with Stale set. Store failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context, coach *Coach) (AccountStatus, error) {
	if coach.PayoutAccountID == "" {
		r.opts.metrics.reconciled(outcomeNoAccount)
		return AccountStatus{Status: PayoutStatusNotCreated}, nil
	}

	// The shared call outlives any single caller; each caller still honors
	// its own cancellation.
	ch := r.group.DoChan(coach.ID.String()+":"+coach.PayoutAccountID, func() (any, error) {
		return r.reconcile(context.WithoutCancel(ctx), coach)
	})
	select {
	case <-ctx.Done():
		return AccountStatus{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccountStatus{}, res.Err
		}
		return res.Val.(AccountStatus), nil
	}
}

func (r *Reconciler) reconcile(ctx context.Context, coach *Coach) (AccountStatus, error) {
	log := r.opts.logger.With(
		logger.Component("reconciler"),
		logger.CoachID(coach.ID),
		logger.AccountID(coach.PayoutAccountID),
	)

	acct, err := r.provider.RetrievePayoutAccount(ctx, coach.PayoutAccountID)
	observedAt := r.opts.now()
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return r.invalidate(ctx, log, coach)
		}
		log.WarnContext(ctx, "payout account lookup failed, serving cached status", logger.Error(err))
		r.opts.metrics.reconciled(outcomeDegraded)
		return AccountStatus{Status: coach.PayoutStatus, Stale: true}, nil
	}

	observed := DerivePayoutStatus(acct)
	result := AccountStatus{
		Status:           observed,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}

	next, shouldWrite := Decide(coach.PayoutStatus, observed)
	if !shouldWrite {
		r.opts.metrics.reconciled(outcomeUnchanged)
		return result, nil
	}

	written, err := r.write(ctx, coach, next, observedAt)
	if err != nil {
		log.ErrorContext(ctx, "failed to persist payout status", logger.Error(err))
		return AccountStatus{}, err
	}
	if written {
		log.InfoContext(ctx, "payout status changed",
			slog.String("from", string(coach.PayoutStatus)),
			slog.String("to", string(next)),
		)
		r.opts.metrics.reconciled(outcomeUpdated)
	} else {
		r.opts.metrics.reconciled(outcomeSuperseded)
	}
	return result, nil
}

// write applies next with a compare-and-swap, re-reading after a lost update
// until the stored state agrees, a newer state is stored, or attempts run out.
func (r *Reconciler) write(ctx context.Context, coach *Coach, next PayoutStatus, observedAt time.Time) (bool, error) {
	expected := coach.PayoutStatus
	for attempt := 1; attempt <= r.opts.maxAttempts; attempt++ {
		ok, err := r.store.CompareAndSwapPayoutStatus(ctx, PayoutStatusUpdate{
			CoachID:    coach.ID,
			AccountID:  coach.PayoutAccountID,
			Expected:   expected,
			Next:       next,
			ObservedAt: observedAt,
		})
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		current, err := r.store.GetCoach(ctx, coach.ID)
		if err != nil {
			return false, err
		}
		switch {
		case current.PayoutAccountID != coach.PayoutAccountID:
			return false, nil
		case current.PayoutStatus == next:
			return false, nil
		case current.PayoutEventAt != nil && current.PayoutEventAt.After(observedAt):
			return false, nil
		}
		expected = current.PayoutStatus
	}

	r.opts.logger.WarnContext(ctx, "payout status write lost to concurrent updates",
		logger.CoachID(coach.ID),
		slog.Int("attempts", r.opts.maxAttempts),
	)
	return false, nil
}

func (r *Reconciler) invalidate(ctx context.Context, log *slog.Logger, coach *Coach) (AccountStatus, error) {
	cleared, err := r.store.ClearPayoutAccount(ctx, coach.ID, coach.PayoutAccountID)
	if err != nil {
		return AccountStatus{}, err
	}
	if cleared {
		log.WarnContext(ctx, "payout account unknown to provider, reference cleared")
	}
	r.opts.metrics.reconciled(outcomeInvalidated)
	return AccountStatus{Status: PayoutStatusNotCreated}, nil
}
