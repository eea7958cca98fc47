package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/coachkit/pkg/logger"
)

// Deduper remembers webhook events that were applied successfully.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Worker applies decoded provider events to the Store. Each event type maps
// to exactly one Store call. Events that can never apply (unknown type,
// missing metadata, unknown entity, stale) are acknowledged and dropped.
type Worker struct {
	store Store
	opts  options
}

func NewWorker(store Store, opts ...Option) *Worker {
	if store == nil {
		panic("billing: worker requires a store")
	}
	return &Worker{store: store, opts: newOptions(opts)}
}

// Handle applies evt. A non-nil error means the delivery should be retried.
func (w *Worker) Handle(ctx context.Context, evt *Event) error {
	if evt == nil {
		return validationError(ErrInvalidPayload)
	}
	log := w.opts.logger.With(
		logger.Component("webhook"),
		logger.EventID(evt.ID),
		logger.EventType(string(evt.Type)),
	)

	if w.opts.deduper != nil && evt.ID != "" {
		seen, err := w.opts.deduper.Seen(ctx, evt.ID)
		if err != nil {
			log.WarnContext(ctx, "event dedupe lookup failed", logger.Error(err))
		} else if seen {
			log.DebugContext(ctx, "event already applied")
			w.opts.metrics.webhookEvent(evt.Type, resultDuplicate)
			return nil
		}
	}

	err := w.apply(ctx, log, evt)

	var stale *StaleEventError
	switch {
	case err == nil:
		w.opts.metrics.webhookEvent(evt.Type, resultApplied)
	case errors.As(err, &stale):
		log.InfoContext(ctx, "stale event ignored", logger.Error(err))
		w.opts.metrics.webhookEvent(evt.Type, resultStale)
	case errors.Is(err, errIgnored):
		w.opts.metrics.webhookEvent(evt.Type, resultIgnored)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnroutableEvent):
		log.WarnContext(ctx, "event dropped", logger.Error(err))
		w.opts.metrics.webhookEvent(evt.Type, resultIgnored)
	default:
		log.ErrorContext(ctx, "failed to apply event", logger.Error(err))
		w.opts.metrics.webhookEvent(evt.Type, resultFailed)
		return err
	}

	w.markProcessed(ctx, log, evt.ID)
	return nil
}

var errIgnored = errors.New("event ignored")

func (w *Worker) apply(ctx context.Context, log *slog.Logger, evt *Event) error {
	switch evt.Type {
	case EventCheckoutCompleted:
		return w.applySubscription(ctx, log, evt, "active")
	case EventSubscriptionUpdated:
		return w.applySubscription(ctx, log, evt, evt.Status)
	case EventSubscriptionCanceled:
		return w.applySubscription(ctx, log, evt, "canceled")
	case EventAccountUpdated:
		if evt.Account == nil || evt.Account.ID == "" {
			return fmt.Errorf("%w: account.updated without account", ErrUnroutableEvent)
		}
		return w.store.ApplyPayoutAccountEvent(ctx, PayoutAccountEvent{
			AccountID:  evt.Account.ID,
			Status:     DerivePayoutStatus(evt.Account),
			OccurredAt: evt.OccurredAt,
		})
	default:
		log.DebugContext(ctx, "unhandled event type")
		return errIgnored
	}
}

// applySubscription routes by the metadata kind written at checkout.
func (w *Worker) applySubscription(ctx context.Context, log *slog.Logger, evt *Event, providerStatus string) error {
	if evt.CoachID == uuid.Nil {
		return fmt.Errorf("%w: missing coach id", ErrUnroutableEvent)
	}

	switch evt.Kind {
	case CheckoutKindCoach:
		status, ok := PlatformStatusFromProvider(providerStatus)
		if !ok {
			log.WarnContext(ctx, "unknown subscription status", logger.Status(providerStatus))
			return errIgnored
		}
		return w.store.ApplyPlatformSubscriptionEvent(ctx, PlatformSubscriptionEvent{
			CoachID:        evt.CoachID,
			Status:         status,
			SubscriptionID: evt.SubscriptionID,
			CustomerID:     evt.CustomerID,
			OccurredAt:     evt.OccurredAt,
		})

	case CheckoutKindUser:
		if evt.UserID == uuid.Nil {
			return fmt.Errorf("%w: missing user id", ErrUnroutableEvent)
		}
		if evt.SubscriptionID == "" {
			return fmt.Errorf("%w: missing subscription id", ErrUnroutableEvent)
		}
		status, ok := SubscriptionStatusFromProvider(providerStatus)
		if !ok {
			log.WarnContext(ctx, "unknown subscription status", logger.Status(providerStatus))
			return errIgnored
		}
		return w.store.ApplyUserSubscriptionEvent(ctx, UserSubscriptionEvent{
			UserID:           evt.UserID,
			CoachID:          evt.CoachID,
			SubscriptionID:   evt.SubscriptionID,
			Status:           status,
			CurrentPeriodEnd: evt.CurrentPeriodEnd,
			CanceledAt:       evt.CanceledAt,
			OccurredAt:       evt.OccurredAt,
		})

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrUnroutableEvent, evt.Kind)
	}
}

func (w *Worker) markProcessed(ctx context.Context, log *slog.Logger, eventID string) {
	if w.opts.deduper == nil || eventID == "" {
		return
	}
	if err := w.opts.deduper.Mark(ctx, eventID); err != nil {
		log.WarnContext(ctx, "failed to record processed event", logger.Error(err))
	}
}
