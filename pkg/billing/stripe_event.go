package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// Minimal views of Stripe objects. Only the fields the worker needs are
// decoded, which keeps event handling independent of the SDK's API version.

type stripeRef string

// UnmarshalJSON accepts both an id string and an expanded object.
func (r *stripeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = stripeRef(obj.ID)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = stripeRef(s)
	return nil
}

type stripeCheckoutObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     stripeRef         `json:"customer"`
	Subscription stripeRef         `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscriptionObject struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Status           string            `json:"status"`
	CanceledAt       int64             `json:"canceled_at"`
	EndedAt          int64             `json:"ended_at"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd prefers the subscription-level field and falls back to the
// latest item period end used by newer API versions.
func (s stripeSubscriptionObject) periodEnd() int64 {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return end
}

type stripeAccountObject struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
	Country          string `json:"country"`
	Created          int64  `json:"created"`
}

// decodeStripeEvent converts a verified Stripe event into an Event.
// Unhandled types are returned with their Stripe type name and no payload.
func decodeStripeEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:         evt.ID,
		Type:       EventType(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}
	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch evt.Type {
	case "checkout.session.completed":
		var obj stripeCheckoutObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		out.Type = EventCheckoutCompleted
		out.SubscriptionID = string(obj.Subscription)
		out.CustomerID = string(obj.Customer)
		applyMetadata(out, obj.Metadata)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var obj stripeSubscriptionObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		out.Type = EventSubscriptionUpdated
		if evt.Type == "customer.subscription.deleted" {
			out.Type = EventSubscriptionCanceled
		}
		out.SubscriptionID = obj.ID
		out.CustomerID = string(obj.Customer)
		out.Status = obj.Status
		out.CurrentPeriodEnd = unixPtr(obj.periodEnd())
		out.CanceledAt = unixPtr(obj.CanceledAt)
		if out.CanceledAt == nil {
			out.CanceledAt = unixPtr(obj.EndedAt)
		}
		applyMetadata(out, obj.Metadata)

	case "account.updated":
		var obj stripeAccountObject
		if err := decodeObject(raw, &obj); err != nil {
			return nil, err
		}
		out.Account = &PayoutAccount{
			ID:               obj.ID,
			ChargesEnabled:   obj.ChargesEnabled,
			PayoutsEnabled:   obj.PayoutsEnabled,
			DetailsSubmitted: obj.DetailsSubmitted,
			Country:          obj.Country,
		}
		if obj.Created > 0 {
			out.Account.CreatedAt = time.Unix(obj.Created, 0).UTC()
		}
	}
	return out, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.Join(ErrInvalidPayload, errors.New("empty event object"))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrInvalidPayload, fmt.Errorf("decode event object: %w", err))
	}
	return nil
}

func applyMetadata(evt *Event, meta map[string]string) {
	evt.Kind = CheckoutKind(meta[MetaKind])
	evt.CoachID = parseMetaUUID(meta, MetaCoachID)
	evt.UserID = parseMetaUUID(meta, MetaUserID)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
