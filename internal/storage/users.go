package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

const userColumns = `id, email, password_hash, is_active, is_verified, timezone,
	notification_settings, subscription_tier::text AS subscription_tier, stripe_customer_id,
	email_verification_token, email_verification_expires, password_reset_token,
	password_reset_expires, created_at, updated_at, last_login_at, last_quote_delivered_at`

// CreateUser вставляет нового пользователя. Дубликат email даёт ErrAlreadyExists.
func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (id, email, password_hash, is_active, is_verified, timezone,
				notification_settings, subscription_tier, email_verification_token,
				email_verification_expires)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8::subscription_tier, $9, $10)
			  RETURNING created_at, updated_at`
	err := s.ext(ctx).QueryRowxContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, u.IsActive, u.IsVerified, u.Timezone,
		u.NotificationSettings, string(u.SubscriptionTier), u.EmailVerificationToken,
		u.EmailVerificationExpires).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return translate(op, err)
	}
	return nil
}

// GetUserByID возвращает пользователя по ID.
func (s *Storage) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.GetUserByID"
	var u models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := sqlx.GetContext(ctx, s.ext(ctx), &u, query, id); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email (с учётом регистра).
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	var u models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if err := sqlx.GetContext(ctx, s.ext(ctx), &u, query, email); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

// UpdateLastLogin фиксирует время входа.
func (s *Storage) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "storage.UpdateLastLogin"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// SetVerificationToken сохраняет токен подтверждения email и срок его действия.
func (s *Storage) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	const op = "storage.SetVerificationToken"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET email_verification_token = $2, email_verification_expires = $3, updated_at = NOW()
		 WHERE id = $1`, id, token, expires)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// ConsumeVerificationToken одним запросом находит неистёкший токен, отмечает
// email подтверждённым и обнуляет токен. Повторный вызов с тем же токеном
// возвращает ErrNotFound.
func (s *Storage) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	const op = "storage.ConsumeVerificationToken"
	var u models.User
	query := `UPDATE users
			  SET is_verified = TRUE, email_verification_token = NULL,
			      email_verification_expires = NULL, updated_at = $2
			  WHERE email_verification_token = $1 AND email_verification_expires > $2
			  RETURNING ` + userColumns
	if err := sqlx.GetContext(ctx, s.ext(ctx), &u, query, token, now); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

// SetPasswordResetToken сохраняет токен сброса пароля.
func (s *Storage) SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	const op = "storage.SetPasswordResetToken"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
		 WHERE id = $1`, id, token, expires)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// ConsumePasswordResetToken атомарно проверяет токен сброса, меняет хеш пароля
// и обнуляет токен.
func (s *Storage) ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error) {
	const op = "storage.ConsumePasswordResetToken"
	var u models.User
	query := `UPDATE users
			  SET password_hash = $2, password_reset_token = NULL,
			      password_reset_expires = NULL, updated_at = $3
			  WHERE password_reset_token = $1 AND password_reset_expires > $3 AND is_active
			  RETURNING ` + userColumns
	if err := sqlx.GetContext(ctx, s.ext(ctx), &u, query, token, passwordHash, now); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

// UpdatePassword заменяет хеш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const op = "storage.UpdatePassword"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// UpdateProfile обновляет часовой пояс и настройки уведомлений.
func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, timezone string, settings models.NotificationSettings) (*models.User, error) {
	const op = "storage.UpdateProfile"
	var u models.User
	query := `UPDATE users SET timezone = $2, notification_settings = $3, updated_at = NOW()
			  WHERE id = $1
			  RETURNING ` + userColumns
	if err := sqlx.GetContext(ctx, s.ext(ctx), &u, query, id, timezone, settings); err != nil {
		return nil, translate(op, err)
	}
	return &u, nil
}

// SetUserActive включает или выключает учётную запись (мягкое удаление).
func (s *Storage) SetUserActive(ctx context.Context, id uuid.UUID, active bool) error {
	const op = "storage.SetUserActive"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// SetStripeCustomerID привязывает клиента биллинга к пользователю.
func (s *Storage) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	const op = "storage.SetStripeCustomerID"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, id, customerID)
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}

// SetUserTier обновляет денормализованный тариф пользователя.
func (s *Storage) SetUserTier(ctx context.Context, id uuid.UUID, tier models.Tier) error {
	const op = "storage.SetUserTier"
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE users SET subscription_tier = $2::subscription_tier, updated_at = NOW() WHERE id = $1`,
		id, string(tier))
	if err != nil {
		return translate(op, err)
	}
	return expectOneRow(op, res)
}
