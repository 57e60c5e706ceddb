package models

import "time"

// SubscriptionStats сводка по подпискам, созданным за период.
type SubscriptionStats struct {
	Total         int64 `db:"total" json:"total"`
	Premium       int64 `db:"premium" json:"premium"`
	Cancelled     int64 `db:"cancelled" json:"cancelled"`
	PremiumActive int64 `db:"premium_active" json:"premium_active"`
}

// Free количество бесплатных подписок.
func (s SubscriptionStats) Free() int64 {
	return s.Total - s.Premium
}

// ConversionRate процент премиум-подписок, 0 при пустой выборке.
func (s SubscriptionStats) ConversionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Premium) / float64(s.Total) * 100
}

// ChurnRate процент отменённых подписок.
func (s SubscriptionStats) ChurnRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Cancelled) / float64(s.Total) * 100
}

// CohortStats подписки, созданные в одном месяце.
type CohortStats struct {
	Cohort string `db:"cohort" json:"cohort"`
	Total  int64  `db:"total" json:"total"`
	Active int64  `db:"active" json:"active"`
}

// RetentionRate процент подписок когорты, активных сейчас.
func (c CohortStats) RetentionRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Active) / float64(c.Total) * 100
}

// EventType тип аналитического события.
type EventType string

// Типы аналитических событий.
const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpgraded  EventType = "subscription_upgraded"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionRenewed   EventType = "subscription_renewed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventFeatureAccessed       EventType = "feature_accessed"
	EventUpgradeAttempted      EventType = "upgrade_attempted"
	EventCancellationAttempted EventType = "cancellation_attempted"
)

// ValidEventType проверяет, что тип события известен.
func ValidEventType(t EventType) bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpgraded, EventSubscriptionCancelled,
		EventSubscriptionRenewed, EventPaymentSucceeded, EventPaymentFailed,
		EventFeatureAccessed, EventUpgradeAttempted, EventCancellationAttempted:
		return true
	}
	return false
}

// AnalyticsEvent событие продуктовой аналитики.
type AnalyticsEvent struct {
	Type       EventType      `json:"event_type"`
	UserID     string         `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
