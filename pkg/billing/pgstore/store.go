// Package pgstore is the PostgreSQL implementation of billing.Store.
//
// Every webhook write is a single conditional UPDATE guarded by the entity's
// event watermark, so concurrent deliveries never need an application lock.
// User subscription events are the exception: they touch several rows and run
// in a transaction serialized per (user, coach) by an advisory lock.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/coachkit/pkg/billing"
	"github.com/dmitrymomot/coachkit/pkg/pg"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type Store struct {
	db DB
}

var _ billing.Store = (*Store)(nil)

// New returns a Store. Panics if db is nil.
func New(db DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

const coachColumns = `id, profile_id, slug, display_name, email, country, user_price_id,
	platform_status, platform_subscription_id, provider_customer_id, platform_event_at,
	payout_account_id, payout_status, payout_event_at, created_at, updated_at`

const subscriptionColumns = `id, user_id, coach_id, provider_subscription_id, status,
	current_period_end, canceled_at, last_event_at, created_at, updated_at`

// CreateCoach inserts a coach row. Zero statuses take the column defaults.
func (s *Store) CreateCoach(ctx context.Context, c billing.Coach) error {
	if c.ID == uuid.Nil {
		return errors.Join(billing.ErrValidation, billing.ErrMissingCoachID)
	}
	platform := c.PlatformStatus
	if platform == "" {
		platform = billing.PlatformStatusNone
	}
	payout := c.PayoutStatus
	if payout == "" {
		payout = billing.PayoutStatusNotCreated
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO coaches (id, profile_id, slug, display_name, email, country, user_price_id,
			platform_status, platform_subscription_id, provider_customer_id, platform_event_at,
			payout_account_id, payout_status, payout_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)`,
		c.ID, c.ProfileID, c.Slug, c.DisplayName, c.Email, c.Country, c.UserPriceID,
		string(platform), c.PlatformSubscriptionID, c.ProviderCustomerID, c.PlatformEventAt,
		c.PayoutAccountID, string(payout), c.PayoutEventAt,
	)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return errors.Join(billing.ErrDuplicateCoach, err)
	default:
		return fmt.Errorf("insert coach: %w", err)
	}
}

// AssignCoach records (or moves) the coach a user belongs to.
func (s *Store) AssignCoach(ctx context.Context, userID, coachID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_profiles (user_id, coach_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET coach_id = EXCLUDED.coach_id, updated_at = now()`,
		userID, coachID,
	)
	if pg.IsForeignKeyViolationError(err) {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	if err != nil {
		return fmt.Errorf("assign coach: %w", err)
	}
	return nil
}

func (s *Store) GetCoach(ctx context.Context, id uuid.UUID) (*billing.Coach, error) {
	return s.coach(ctx, `SELECT `+coachColumns+` FROM coaches WHERE id = $1`, id)
}

func (s *Store) GetCoachBySlug(ctx context.Context, slug string) (*billing.Coach, error) {
	return s.coach(ctx, `SELECT `+coachColumns+` FROM coaches WHERE slug = $1`, slug)
}

func (s *Store) GetCoachByPayoutAccount(ctx context.Context, accountID string) (*billing.Coach, error) {
	if accountID == "" {
		return nil, billing.NotFound(billing.ErrCoachNotFound)
	}
	return s.coach(ctx, `SELECT `+coachColumns+` FROM coaches WHERE payout_account_id = $1`, accountID)
}

func (s *Store) coach(ctx context.Context, query string, arg any) (*billing.Coach, error) {
	c, err := scanCoach(s.db.QueryRow(ctx, query, arg))
	if pg.IsNotFoundError(err) {
		return nil, billing.NotFound(billing.ErrCoachNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get coach: %w", err)
	}
	return c, nil
}

func (s *Store) AssignedCoachID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var coachID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT coach_id FROM user_profiles WHERE user_id = $1`, userID).Scan(&coachID)
	if pg.IsNotFoundError(err) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get assigned coach: %w", err)
	}
	return coachID, nil
}

func (s *Store) SetPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE coaches
		SET payout_account_id = $2, payout_status = 'pending', updated_at = now()
		WHERE id = $1 AND payout_account_id IS NULL`,
		coachID, accountID,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(billing.ErrPayoutAccountExists, err)
		}
		return fmt.Errorf("set payout account: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := s.requireCoach(ctx, coachID); err != nil {
		return err
	}
	return billing.ErrPayoutAccountExists
}

func (s *Store) CompareAndSwapPayoutStatus(ctx context.Context, upd billing.PayoutStatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE coaches
		SET payout_status = $4, payout_event_at = $5, updated_at = now()
		WHERE id = $1
			AND payout_account_id = $2
			AND payout_status = $3
			AND (payout_event_at IS NULL OR payout_event_at <= $5)`,
		upd.CoachID, upd.AccountID, string(upd.Expected), string(upd.Next), upd.ObservedAt,
	)
	if err != nil {
		return false, fmt.Errorf("swap payout status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.requireCoach(ctx, upd.CoachID)
}

func (s *Store) ClearPayoutAccount(ctx context.Context, coachID uuid.UUID, accountID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE coaches
		SET payout_account_id = NULL, payout_status = 'not_created', payout_event_at = now(), updated_at = now()
		WHERE id = $1 AND payout_account_id = $2`,
		coachID, accountID,
	)
	if err != nil {
		return false, fmt.Errorf("clear payout account: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.requireCoach(ctx, coachID)
}

func (s *Store) ApplyPlatformSubscriptionEvent(ctx context.Context, evt billing.PlatformSubscriptionEvent) error {
	// A non-activating event for a subscription other than the stored one
	// belongs to a replaced subscription and is treated as stale. At an equal
	// watermark a canceled subscription is never moved back to a live status.
	tag, err := s.db.Exec(ctx, `
		UPDATE coaches
		SET platform_status = $2,
			platform_subscription_id = COALESCE(NULLIF($3::text, ''), platform_subscription_id),
			provider_customer_id = COALESCE(NULLIF($4::text, ''), provider_customer_id),
			platform_event_at = $5,
			updated_at = now()
		WHERE id = $1
			AND (platform_event_at IS NULL OR platform_event_at <= $5)
			AND NOT ($2 <> 'active' AND platform_subscription_id <> '' AND $3::text <> '' AND platform_subscription_id <> $3::text)
			AND NOT (platform_event_at = $5 AND platform_status = 'canceled' AND $2 <> 'canceled'
				AND ($3::text = '' OR platform_subscription_id = $3::text))`,
		evt.CoachID, string(evt.Status), evt.SubscriptionID, evt.CustomerID, evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("apply platform subscription event: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var watermark *time.Time
	err = s.db.QueryRow(ctx, `SELECT platform_event_at FROM coaches WHERE id = $1`, evt.CoachID).Scan(&watermark)
	if pg.IsNotFoundError(err) {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	if err != nil {
		return fmt.Errorf("read platform watermark: %w", err)
	}
	return staleError("coach", evt.CoachID.String(), evt.OccurredAt, watermark)
}

func (s *Store) ApplyPayoutAccountEvent(ctx context.Context, evt billing.PayoutAccountEvent) error {
	if evt.AccountID == "" {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE coaches
		SET payout_status = $2, payout_event_at = $3, updated_at = now()
		WHERE payout_account_id = $1
			AND (payout_event_at IS NULL OR payout_event_at <= $3)`,
		evt.AccountID, string(evt.Status), evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("apply payout account event: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var watermark *time.Time
	err = s.db.QueryRow(ctx, `SELECT payout_event_at FROM coaches WHERE payout_account_id = $1`, evt.AccountID).Scan(&watermark)
	if pg.IsNotFoundError(err) {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	if err != nil {
		return fmt.Errorf("read payout watermark: %w", err)
	}
	return staleError("payout_account", evt.AccountID, evt.OccurredAt, watermark)
}

func (s *Store) ApplyUserSubscriptionEvent(ctx context.Context, evt billing.UserSubscriptionEvent) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`,
		evt.UserID.String(), evt.CoachID.String()); err != nil {
		return fmt.Errorf("lock subscription pair: %w", err)
	}
	if err = requireCoach(ctx, tx, evt.CoachID); err != nil {
		return err
	}

	var (
		id          uuid.UUID
		status      string
		lastEventAt time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, status, last_event_at FROM user_subscriptions
		WHERE user_id = $1 AND coach_id = $2 AND provider_subscription_id = $3
		FOR UPDATE`,
		evt.UserID, evt.CoachID, evt.SubscriptionID,
	).Scan(&id, &status, &lastEventAt)
	switch {
	case err == nil:
		err = updateSubscription(ctx, tx, id, billing.SubscriptionStatus(status), lastEventAt, evt)
	case pg.IsNotFoundError(err):
		err = insertSubscription(ctx, tx, evt)
	default:
		err = fmt.Errorf("read subscription: %w", err)
	}
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subscription event: %w", err)
	}
	return nil
}

// updateSubscription applies an event to a known row. Canceled rows are terminal.
func updateSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, current billing.SubscriptionStatus, lastEventAt time.Time, evt billing.UserSubscriptionEvent) error {
	if current == billing.SubscriptionStatusCanceled {
		if evt.Status == billing.SubscriptionStatusCanceled {
			return nil
		}
		return &billing.StaleEventError{Entity: "subscription", Key: evt.SubscriptionID, OccurredAt: evt.OccurredAt}
	}
	if evt.OccurredAt.Before(lastEventAt) {
		return &billing.StaleEventError{Entity: "subscription", Key: evt.SubscriptionID, OccurredAt: evt.OccurredAt, Watermark: lastEventAt}
	}

	_, err := tx.Exec(ctx, `
		UPDATE user_subscriptions
		SET status = $2,
			current_period_end = COALESCE($3, current_period_end),
			canceled_at = CASE WHEN $2 = 'canceled' THEN COALESCE(canceled_at, $4) ELSE canceled_at END,
			last_event_at = $5,
			updated_at = now()
		WHERE id = $1`,
		id, string(evt.Status), evt.CurrentPeriodEnd, canceledAt(evt), evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func insertSubscription(ctx context.Context, tx pgx.Tx, evt billing.UserSubscriptionEvent) error {
	status := evt.Status
	var cancel *time.Time
	if status == billing.SubscriptionStatusCanceled {
		cancel = canceledAt(evt)
	} else {
		var newer bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM user_subscriptions
				WHERE user_id = $1 AND coach_id = $2 AND status = 'active' AND last_event_at > $3
			)`,
			evt.UserID, evt.CoachID, evt.OccurredAt,
		).Scan(&newer); err != nil {
			return fmt.Errorf("check newer subscription: %w", err)
		}
		if newer {
			// A newer subscription already holds the pair: record this one closed.
			status = billing.SubscriptionStatusCanceled
			cancel = &evt.OccurredAt
		} else if _, err := tx.Exec(ctx, `
			UPDATE user_subscriptions
			SET status = 'canceled', canceled_at = $3, updated_at = now()
			WHERE user_id = $1 AND coach_id = $2 AND status = 'active' AND last_event_at <= $3`,
			evt.UserID, evt.CoachID, evt.OccurredAt,
		); err != nil {
			return fmt.Errorf("close previous subscription: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO user_subscriptions (id, user_id, coach_id, provider_subscription_id, status,
			current_period_end, canceled_at, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), evt.UserID, evt.CoachID, evt.SubscriptionID, string(status),
		evt.CurrentPeriodEnd, cancel, evt.OccurredAt,
	)
	if pg.IsForeignKeyViolationError(err) {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Store) ActiveSubscription(ctx context.Context, userID, coachID uuid.UUID) (*billing.UserSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM user_subscriptions
		WHERE user_id = $1 AND coach_id = $2 AND status = 'active'`,
		userID, coachID,
	))
	if pg.IsNotFoundError(err) {
		return nil, billing.NotFound(billing.ErrSubscriptionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

// Subscriptions lists every subscription row of a user to a coach, oldest first.
func (s *Store) Subscriptions(ctx context.Context, userID, coachID uuid.UUID) ([]billing.UserSubscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM user_subscriptions
		WHERE user_id = $1 AND coach_id = $2
		ORDER BY created_at, id`,
		userID, coachID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []billing.UserSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}

func (s *Store) requireCoach(ctx context.Context, id uuid.UUID) error {
	return requireCoach(ctx, s.db, id)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func requireCoach(ctx context.Context, q queryRower, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coaches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check coach: %w", err)
	}
	if !exists {
		return billing.NotFound(billing.ErrCoachNotFound)
	}
	return nil
}

func staleError(entity, key string, occurredAt time.Time, watermark *time.Time) error {
	stale := &billing.StaleEventError{Entity: entity, Key: key, OccurredAt: occurredAt}
	if watermark != nil {
		stale.Watermark = *watermark
	}
	return stale
}

func canceledAt(evt billing.UserSubscriptionEvent) *time.Time {
	if evt.CanceledAt != nil {
		return evt.CanceledAt
	}
	t := evt.OccurredAt
	return &t
}

func scanCoach(row pgx.Row) (*billing.Coach, error) {
	var (
		c               billing.Coach
		platformStatus  string
		payoutStatus    string
		payoutAccountID *string
	)
	err := row.Scan(
		&c.ID, &c.ProfileID, &c.Slug, &c.DisplayName, &c.Email, &c.Country, &c.UserPriceID,
		&platformStatus, &c.PlatformSubscriptionID, &c.ProviderCustomerID, &c.PlatformEventAt,
		&payoutAccountID, &payoutStatus, &c.PayoutEventAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PlatformStatus = billing.PlatformStatus(platformStatus)
	c.PayoutStatus = billing.PayoutStatus(payoutStatus)
	if payoutAccountID != nil {
		c.PayoutAccountID = *payoutAccountID
	}
	return &c, nil
}

func scanSubscription(row pgx.Row) (*billing.UserSubscription, error) {
	var (
		sub    billing.UserSubscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.CoachID, &sub.ProviderSubscriptionID, &status,
		&sub.CurrentPeriodEnd, &sub.CanceledAt, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = billing.SubscriptionStatus(status)
	return &sub, nil
}
