package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store with the same semantics as the
// Postgres implementation. It backs tests and local runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	coaches     map[uuid.UUID]*Coach
	assignments map[uuid.UUID]uuid.UUID
	subs        map[subKey]*UserSubscription
}

type subKey struct {
	userID         uuid.UUID
	coachID        uuid.UUID
	subscriptionID string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		coaches:     make(map[uuid.UUID]*Coach),
		assignments: make(map[uuid.UUID]uuid.UUID),
		subs:        make(map[subKey]*UserSubscription),
	}
}

// CreateCoach inserts a coach. Zero statuses default to none and not_created.
func (s *MemoryStore) CreateCoach(_ context.Context, c Coach) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		return validationError(ErrMissingCoachID)
	}
	for _, existing := range s.coaches {
		if existing.ID == c.ID || existing.Slug == c.Slug {
			return ErrDuplicateCoach
		}
	}
	if c.PlatformStatus == "" {
		c.PlatformStatus = PlatformStatusNone
	}
	if c.PayoutStatus == "" {
		c.PayoutStatus = PayoutStatusNotCreated
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.coaches[c.ID] = &c
	return nil
}

// AssignCoach records the coach a user belongs to.
func (s *MemoryStore) AssignCoach(_ context.Context, userID, coachID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.coaches[coachID]; !ok {
		return notFoundError(ErrCoachNotFound)
	}
	s.assignments[userID] = coachID
	return nil
}

// Subscriptions lists every subscription row of a user to a coach, oldest first.
func (s *MemoryStore) Subscriptions(_ context.Context, userID, coachID uuid.UUID) ([]UserSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []UserSubscription
	for k, sub := range s.subs {
		if k.userID == userID && k.coachID == coachID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetCoach(_ context.Context, id uuid.UUID) (*Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coaches[id]
	if !ok {
		return nil, notFoundError(ErrCoachNotFound)
	}
	return cloneCoach(c), nil
}

func (s *MemoryStore) GetCoachBySlug(_ context.Context, slug string) (*Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.coaches {
		if c.Slug == slug {
			return cloneCoach(c), nil
		}
	}
	return nil, notFoundError(ErrCoachNotFound)
}

func (s *MemoryStore) GetCoachByPayoutAccount(_ context.Context, accountID string) (*Coach, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.coachByAccount(accountID); c != nil {
		return cloneCoach(c), nil
	}
	return nil, notFoundError(ErrCoachNotFound)
}

func (s *MemoryStore) AssignedCoachID(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignments[userID], nil
}

func (s *MemoryStore) SetPayoutAccount(_ context.Context, coachID uuid.UUID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[coachID]
	if !ok {
		return notFoundError(ErrCoachNotFound)
	}
	if c.PayoutAccountID != "" {
		return ErrPayoutAccountExists
	}
	c.PayoutAccountID = accountID
	c.PayoutStatus = PayoutStatusPending
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CompareAndSwapPayoutStatus(_ context.Context, upd PayoutStatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[upd.CoachID]
	if !ok {
		return false, notFoundError(ErrCoachNotFound)
	}
	if c.PayoutAccountID != upd.AccountID || c.PayoutStatus != upd.Expected {
		return false, nil
	}
	if c.PayoutEventAt != nil && c.PayoutEventAt.After(upd.ObservedAt) {
		return false, nil
	}
	c.PayoutStatus = upd.Next
	c.PayoutEventAt = timePtr(upd.ObservedAt)
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ClearPayoutAccount(_ context.Context, coachID uuid.UUID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[coachID]
	if !ok {
		return false, notFoundError(ErrCoachNotFound)
	}
	if c.PayoutAccountID != accountID {
		return false, nil
	}
	c.PayoutAccountID = ""
	c.PayoutStatus = PayoutStatusNotCreated
	c.PayoutEventAt = timePtr(time.Now())
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ApplyPlatformSubscriptionEvent(_ context.Context, evt PlatformSubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coaches[evt.CoachID]
	if !ok {
		return notFoundError(ErrCoachNotFound)
	}
	stale := &StaleEventError{Entity: "coach", Key: evt.CoachID.String(), OccurredAt: evt.OccurredAt}
	if c.PlatformEventAt != nil && evt.OccurredAt.Before(*c.PlatformEventAt) {
		stale.Watermark = *c.PlatformEventAt
		return stale
	}
	if supersededSubscription(c.PlatformSubscriptionID, evt) {
		return stale
	}
	if c.PlatformEventAt != nil && evt.OccurredAt.Equal(*c.PlatformEventAt) && revivesCanceled(c, evt) {
		stale.Watermark = *c.PlatformEventAt
		return stale
	}

	c.PlatformStatus = evt.Status
	if evt.SubscriptionID != "" {
		c.PlatformSubscriptionID = evt.SubscriptionID
	}
	if evt.CustomerID != "" {
		c.ProviderCustomerID = evt.CustomerID
	}
	c.PlatformEventAt = timePtr(evt.OccurredAt)
	c.UpdatedAt = time.Now()
	return nil
}

// supersededSubscription reports whether a non-activating event targets a
// subscription other than the one currently stored for the coach.
func supersededSubscription(current string, evt PlatformSubscriptionEvent) bool {
	return evt.Status != PlatformStatusActive &&
		current != "" && evt.SubscriptionID != "" &&
		current != evt.SubscriptionID
}

// revivesCanceled reports whether evt would move the coach's canceled
// subscription back to a live status. Provider timestamps have one-second
// resolution, so an equal watermark alone cannot order the two events.
func revivesCanceled(c *Coach, evt PlatformSubscriptionEvent) bool {
	return c.PlatformStatus == PlatformStatusCanceled &&
		evt.Status != PlatformStatusCanceled &&
		(evt.SubscriptionID == "" || evt.SubscriptionID == c.PlatformSubscriptionID)
}

func (s *MemoryStore) ApplyPayoutAccountEvent(_ context.Context, evt PayoutAccountEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coachByAccount(evt.AccountID)
	if c == nil {
		return notFoundError(ErrCoachNotFound)
	}
	if c.PayoutEventAt != nil && evt.OccurredAt.Before(*c.PayoutEventAt) {
		return &StaleEventError{Entity: "payout_account", Key: evt.AccountID, OccurredAt: evt.OccurredAt, Watermark: *c.PayoutEventAt}
	}
	c.PayoutStatus = evt.Status
	c.PayoutEventAt = timePtr(evt.OccurredAt)
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ApplyUserSubscriptionEvent(_ context.Context, evt UserSubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.coaches[evt.CoachID]; !ok {
		return notFoundError(ErrCoachNotFound)
	}

	now := time.Now()
	key := subKey{userID: evt.UserID, coachID: evt.CoachID, subscriptionID: evt.SubscriptionID}
	if sub, ok := s.subs[key]; ok {
		return applyToExisting(sub, evt, now)
	}

	sub := &UserSubscription{
		ID:                     uuid.New(),
		UserID:                 evt.UserID,
		CoachID:                evt.CoachID,
		ProviderSubscriptionID: evt.SubscriptionID,
		Status:                 evt.Status,
		CurrentPeriodEnd:       evt.CurrentPeriodEnd,
		LastEventAt:            evt.OccurredAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	switch {
	case evt.Status == SubscriptionStatusCanceled:
		sub.CanceledAt = canceledAt(evt)
	case s.newerActive(evt):
		// A newer subscription already holds the pair: record this one closed.
		sub.Status = SubscriptionStatusCanceled
		sub.CanceledAt = timePtr(evt.OccurredAt)
	default:
		for k, other := range s.subs {
			if k.userID == evt.UserID && k.coachID == evt.CoachID && other.IsActive() {
				other.Status = SubscriptionStatusCanceled
				other.CanceledAt = timePtr(evt.OccurredAt)
				other.UpdatedAt = now
			}
		}
	}
	s.subs[key] = sub
	return nil
}

// newerActive reports whether the (user, coach) pair has an active row whose
// last event is newer than evt.
func (s *MemoryStore) newerActive(evt UserSubscriptionEvent) bool {
	for k, other := range s.subs {
		if k.userID == evt.UserID && k.coachID == evt.CoachID &&
			other.IsActive() && other.LastEventAt.After(evt.OccurredAt) {
			return true
		}
	}
	return false
}

// applyToExisting updates a known row. Canceled rows are terminal.
func applyToExisting(sub *UserSubscription, evt UserSubscriptionEvent, now time.Time) error {
	if sub.Status == SubscriptionStatusCanceled {
		if evt.Status == SubscriptionStatusCanceled {
			return nil
		}
		return &StaleEventError{Entity: "subscription", Key: sub.ProviderSubscriptionID, OccurredAt: evt.OccurredAt}
	}
	if evt.OccurredAt.Before(sub.LastEventAt) {
		return &StaleEventError{Entity: "subscription", Key: sub.ProviderSubscriptionID, OccurredAt: evt.OccurredAt, Watermark: sub.LastEventAt}
	}
	sub.Status = evt.Status
	if evt.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = evt.CurrentPeriodEnd
	}
	if evt.Status == SubscriptionStatusCanceled {
		sub.CanceledAt = canceledAt(evt)
	}
	sub.LastEventAt = evt.OccurredAt
	sub.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ActiveSubscription(_ context.Context, userID, coachID uuid.UUID) (*UserSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, sub := range s.subs {
		if k.userID == userID && k.coachID == coachID && sub.IsActive() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, notFoundError(ErrSubscriptionNotFound)
}

func (s *MemoryStore) coachByAccount(accountID string) *Coach {
	if accountID == "" {
		return nil
	}
	for _, c := range s.coaches {
		if c.PayoutAccountID == accountID {
			return c
		}
	}
	return nil
}

func canceledAt(evt UserSubscriptionEvent) *time.Time {
	if evt.CanceledAt != nil {
		return timePtr(*evt.CanceledAt)
	}
	return timePtr(evt.OccurredAt)
}

func cloneCoach(c *Coach) *Coach {
	cp := *c
	if c.PlatformEventAt != nil {
		cp.PlatformEventAt = timePtr(*c.PlatformEventAt)
	}
	if c.PayoutEventAt != nil {
		cp.PayoutEventAt = timePtr(*c.PayoutEventAt)
	}
	return &cp
}

func timePtr(t time.Time) *time.Time {
	return &t
}
