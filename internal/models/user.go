// Package models содержит доменные модели пользователя и подписки,
// используемые в бизнес‑логике и при работе с хранилищем.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultTimezone часовой пояс нового пользователя.
const DefaultTimezone = "UTC"

var deliveryTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// User представляет зарегистрированного пользователя системы.
// SubscriptionTier только проекция строки подписки, доступ к функциям
// определяется по Subscription.
type User struct {
	ID                       uuid.UUID            `db:"id" json:"id"`
	Email                    string               `db:"email" json:"email"`
	PasswordHash             string               `db:"password_hash" json:"-"`
	IsActive                 bool                 `db:"is_active" json:"is_active"`
	IsVerified               bool                 `db:"is_verified" json:"is_verified"`
	Timezone                 string               `db:"timezone" json:"timezone"`
	NotificationSettings     NotificationSettings `db:"notification_settings" json:"notification_settings"`
	SubscriptionTier         Tier                 `db:"subscription_tier" json:"subscription_tier"`
	StripeCustomerID         *string              `db:"stripe_customer_id" json:"-"`
	EmailVerificationToken   *string              `db:"email_verification_token" json:"-"`
	EmailVerificationExpires *time.Time           `db:"email_verification_expires" json:"-"`
	PasswordResetToken       *string              `db:"password_reset_token" json:"-"`
	PasswordResetExpires     *time.Time           `db:"password_reset_expires" json:"-"`
	CreatedAt                time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time            `db:"updated_at" json:"updated_at"`
	LastLoginAt              *time.Time           `db:"last_login_at" json:"last_login_at,omitempty"`
	LastQuoteDeliveredAt     *time.Time           `db:"last_quote_delivered_at" json:"last_quote_delivered_at,omitempty"`
}

// NotificationSettings настройки доставки цитат, хранятся в JSONB.
type NotificationSettings struct {
	Enabled      bool       `json:"enabled"`
	DeliveryTime string     `json:"delivery_time"`
	WeekdaysOnly bool       `json:"weekdays_only"`
	PauseUntil   *time.Time `json:"pause_until"`
}

// DefaultNotificationSettings настройки нового пользователя.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:      true,
		DeliveryTime: "09:00",
		WeekdaysOnly: false,
	}
}

// ValidDeliveryTime проверяет формат HH:MM.
func ValidDeliveryTime(s string) bool {
	return deliveryTimeRe.MatchString(s)
}

// Value сериализует настройки в JSON для колонки JSONB.
func (n NotificationSettings) Value() (driver.Value, error) {
	return json.Marshal(n)
}

// Scan читает настройки из JSONB.
func (n *NotificationSettings) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*n = DefaultNotificationSettings()
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("models.NotificationSettings.Scan: unsupported type %T", src)
	}
	return json.Unmarshal(data, n)
}

// CurrentUser аутентифицированный пользователь запроса. Создаётся один раз
// при проверке токена и передаётся по значению.
type CurrentUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Tier  Tier      `json:"subscription_tier"`
}
