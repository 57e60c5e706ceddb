package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier уровень тарифа.
type Tier string

// Тарифы.
const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Status состояние подписки в биллинге, независимое от тарифа.
type Status string

// Статусы подписки.
const (
	StatusActive     Status = "active"
	StatusCancelled  Status = "cancelled"
	StatusPastDue    Status = "past_due"
	StatusIncomplete Status = "incomplete"
)

// ParseTier разбирает тариф без учёта регистра, неизвестное значение даёт false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(s)) {
	case TierFree:
		return TierFree, true
	case TierPremium:
		return TierPremium, true
	}
	return "", false
}

// Subscription подписка пользователя, не более одной на пользователя.
type Subscription struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	UserID               uuid.UUID  `db:"user_id" json:"user_id"`
	Tier                 Tier       `db:"tier" json:"tier"`
	Status               Status     `db:"status" json:"status"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   *time.Time `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CancelledAt          *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	LastEventAt          *time.Time `db:"last_event_at" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// IsPremiumActive true только при tier=premium и status=active одновременно.
func (s *Subscription) IsPremiumActive() bool {
	return s != nil && s.Tier == TierPremium && s.Status == StatusActive
}

// EffectiveTier тариф, по которому выдаются функции: без подписки или
// при неактивном статусе всегда free.
func (s *Subscription) EffectiveTier() Tier {
	if s == nil || s.Status != StatusActive {
		return TierFree
	}
	return s.Tier
}

// ProcessedWebhookEvent запись об обработанном событии провайдера.
type ProcessedWebhookEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
