package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

const subscriptionColumns = `id, user_id, tier::text AS tier, status::text AS status,
	stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end,
	cancel_at_period_end, cancelled_at, last_event_at, created_at, updated_at`

// CreateSubscription вставляет подписку. Вторая подписка того же пользователя
// даёт ErrAlreadyExists.
func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (id, user_id, tier, status, stripe_customer_id,
				stripe_subscription_id, current_period_start, current_period_end)
			  VALUES ($1, $2, $3::subscription_tier, $4::subscription_status, $5, $6, $7, $8)
			  RETURNING created_at, updated_at`
	err := s.ext(ctx).QueryRowxContext(ctx, query,
		sub.ID, sub.UserID, string(sub.Tier), string(sub.Status), sub.StripeCustomerID,
		sub.StripeSubscriptionID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd).
		Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return translate(op, err)
	}
	return nil
}

// GetSubscriptionByUserID возвращает подписку пользователя.
// Внутри транзакции строка блокируется до конца транзакции.
func (s *Storage) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByUserID"
	var sub models.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	if _, inTx := ctx.Value(txKey{}).(*sqlx.Tx); inTx {
		query += ` FOR UPDATE`
	}
	if err := sqlx.GetContext(ctx, s.ext(ctx), &sub, query, userID); err != nil {
		return nil, translate(op, err)
	}
	return &sub, nil
}

// GetSubscriptionByStripeID ищет подписку по ID подписки в биллинге.
// Внутри транзакции строка блокируется до конца транзакции.
func (s *Storage) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByStripeID"
	var sub models.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	if _, inTx := ctx.Value(txKey{}).(*sqlx.Tx); inTx {
		query += ` FOR UPDATE`
	}
	if err := sqlx.GetContext(ctx, s.ext(ctx), &sub, query, stripeSubscriptionID); err != nil {
		return nil, translate(op, err)
	}
	return &sub, nil
}

// UpsertSubscription создаёт или полностью перезаписывает подписку пользователя
// (конфликт по user_id). ID существующей строки сохраняется.
func (s *Storage) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.UpsertSubscription"
	query := `INSERT INTO subscriptions (id, user_id, tier, status, stripe_customer_id,
				stripe_subscription_id, current_period_start, current_period_end,
				cancel_at_period_end, cancelled_at)
			  VALUES ($1, $2, $3::subscription_tier, $4::subscription_status, $5, $6, $7, $8, $9, $10)
			  ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				stripe_subscription_id = EXCLUDED.stripe_subscription_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				cancelled_at = EXCLUDED.cancelled_at,
				updated_at = NOW()
			  RETURNING id, created_at, updated_at`
	err := s.ext(ctx).QueryRowxContext(ctx, query,
		sub.ID, sub.UserID, string(sub.Tier), string(sub.Status), sub.StripeCustomerID,
		sub.StripeSubscriptionID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CancelledAt).
		Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return translate(op, err)
	}
	return nil
}

// UpdateSubscription сохраняет изменяемые поля подписки по ID.
// Пустой LastEventAt не затирает уже сохранённое время события.
func (s *Storage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.UpdateSubscription"
	query := `UPDATE subscriptions SET
				tier = $2::subscription_tier,
				status = $3::subscription_status,
				current_period_start = $4,
				current_period_end = $5,
				cancel_at_period_end = $6,
				cancelled_at = $7,
				last_event_at = COALESCE($8, last_event_at),
				updated_at = NOW()
			  WHERE id = $1
			  RETURNING updated_at`
	err := s.ext(ctx).QueryRowxContext(ctx, query,
		sub.ID, string(sub.Tier), string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CancelledAt, sub.LastEventAt).Scan(&sub.UpdatedAt)
	if err != nil {
		return translate(op, err)
	}
	return nil
}

// SubscriptionStats агрегирует подписки, созданные в интервале [from, to].
func (s *Storage) SubscriptionStats(ctx context.Context, from, to time.Time) (models.SubscriptionStats, error) {
	const op = "storage.SubscriptionStats"
	var stats models.SubscriptionStats
	query := `SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE tier = 'premium') AS premium,
				COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
				COUNT(*) FILTER (WHERE tier = 'premium' AND status = 'active') AS premium_active
			  FROM subscriptions
			  WHERE created_at BETWEEN $1 AND $2`
	if err := sqlx.GetContext(ctx, s.ext(ctx), &stats, query, from, to); err != nil {
		return models.SubscriptionStats{}, translate(op, err)
	}
	return stats, nil
}

// CohortStats группирует подписки по месяцу создания.
func (s *Storage) CohortStats(ctx context.Context) ([]models.CohortStats, error) {
	const op = "storage.CohortStats"
	var rows []models.CohortStats
	query := `SELECT
				to_char(date_trunc('month', created_at), 'YYYY-MM') AS cohort,
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = 'active') AS active
			  FROM subscriptions
			  GROUP BY 1
			  ORDER BY 1`
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &rows, query); err != nil {
		return nil, translate(op, err)
	}
	return rows, nil
}
