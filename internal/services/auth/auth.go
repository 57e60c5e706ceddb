// Package services содержит логику бизнес-уровня для работы с пользователями и аутентификацией.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/jwt"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/password"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/token"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

// Ошибки сервиса аутентификации.
var (
	ErrEmailTaken          = apperr.New(apperr.KindConflict, "EMAIL_ALREADY_REGISTERED", "email already registered")
	ErrInvalidCredentials  = apperr.New(apperr.KindUnauthorized, "INVALID_CREDENTIALS", "incorrect email or password")
	ErrAccountDisabled     = apperr.New(apperr.KindForbidden, "ACCOUNT_DISABLED", "account is deactivated")
	ErrInvalidToken        = apperr.New(apperr.KindBadRequest, "INVALID_TOKEN", "invalid or expired token")
	ErrWrongPassword       = apperr.New(apperr.KindBadRequest, "INVALID_PASSWORD", "current password is incorrect")
	ErrWeakPassword        = apperr.New(apperr.KindValidation, "WEAK_PASSWORD", "password does not meet requirements")
	ErrInvalidTimezone     = apperr.New(apperr.KindValidation, "INVALID_TIMEZONE", "unknown timezone")
	ErrInvalidDeliveryTime = apperr.New(apperr.KindValidation, "INVALID_DELIVERY_TIME", "delivery_time must be in HH:MM format")
	ErrUserNotFound        = apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
)

const revokedPrefix = "revoked_token:"

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateUser(ctx context.Context, u *models.User) error
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, timezone string, settings models.NotificationSettings) (*models.User, error)
	SetUserActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Mailer отправляет письма пользователю.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendWelcome(ctx context.Context, email string) error
}

// Revocations хранит отозванные токены.
type Revocations interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Tracker получатель аналитических событий.
type Tracker interface {
	Track(ctx context.Context, event models.AnalyticsEvent)
}

// Options сроки жизни одноразовых токенов.
type Options struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// LoginResult ответ на успешный вход.
type LoginResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
	User        *models.User `json:"user"`
}

// ProfileUpdate изменяемые поля профиля. nil означает "не менять".
type ProfileUpdate struct {
	Timezone             *string
	NotificationSettings *models.NotificationSettings
}

// AuthService отвечает за регистрацию, авторизацию и валидацию JWT.
type AuthService struct {
	users    UserRepository
	jwtMaker jwt.Maker
	mailer   Mailer
	revoked  Revocations
	tracker  Tracker
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewAuthService создает новый экземпляр AuthService.
func NewAuthService(users UserRepository, jwtMaker jwt.Maker, mailer Mailer, revoked Revocations, tracker Tracker, log *slog.Logger, opts Options) *AuthService {
	if opts.VerificationTTL <= 0 {
		opts.VerificationTTL = 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	return &AuthService{
		users:    users,
		jwtMaker: jwtMaker,
		mailer:   mailer,
		revoked:  revoked,
		tracker:  tracker,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// Register создает неподтверждённого пользователя с бесплатной подпиской
// и отправляет письмо для подтверждения email.
func (s *AuthService) Register(ctx context.Context, email, rawPassword, timezone string) (*models.User, error) {
	const op = "services.auth.Register"

	if err := checkPassword(rawPassword); err != nil {
		return nil, err
	}
	if timezone == "" {
		timezone = models.DefaultTimezone
	}
	if err := checkTimezone(timezone); err != nil {
		return nil, err
	}

	hashed, err := password.GetHash(rawPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verification, err := token.New()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	expires := now.Add(s.opts.VerificationTTL)
	user := &models.User{
		ID:                       uuid.New(),
		Email:                    email,
		PasswordHash:             hashed,
		IsActive:                 true,
		IsVerified:               false,
		Timezone:                 timezone,
		NotificationSettings:     models.DefaultNotificationSettings(),
		SubscriptionTier:         models.TierFree,
		EmailVerificationToken:   &verification,
		EmailVerificationExpires: &expires,
	}
	sub := &models.Subscription{
		ID:     uuid.New(),
		UserID: user.ID,
		Tier:   models.TierFree,
		Status: models.StatusActive,
	}

	err = s.users.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.CreateUser(ctx, user); err != nil {
			return err
		}
		return s.users.CreateSubscription(ctx, sub)
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user registered", slog.String("op", op), slog.String("user_id", user.ID.String()))
	if err := s.mailer.SendVerification(ctx, user.Email, verification); err != nil {
		s.log.Warn("failed to send verification email", slog.String("op", op), sl.Err(err))
	}
	s.tracker.Track(ctx, models.AnalyticsEvent{
		Type:       models.EventSubscriptionCreated,
		UserID:     user.ID.String(),
		Properties: map[string]any{"tier": string(models.TierFree)},
		Timestamp:  now,
	})
	return user, nil
}

// Login проверяет пароль пользователя и выдаёт access-токен.
func (s *AuthService) Login(ctx context.Context, email, rawPassword string) (*LoginResult, error) {
	const op = "services.auth.Login"

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := password.CompareHash(user.PasswordHash, rawPassword); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	access, err := s.jwtMaker.GenerateToken(user.ID.String(), user.Email, string(user.SubscriptionTier))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to update last login", slog.String("op", op), sl.Err(err))
	} else {
		user.LastLoginAt = &now
	}

	return &LoginResult{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(s.jwtMaker.TTL().Seconds()),
		User:        user,
	}, nil
}

// Authenticate проверяет access-токен и возвращает пользователя запроса.
// Отозванные токены и токены деактивированных пользователей отклоняются.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (models.CurrentUser, error) {
	const op = "services.auth.Authenticate"

	claims, err := s.jwtMaker.ParseToken(accessToken)
	if err != nil {
		return models.CurrentUser{}, apperr.ErrUnauthorized.WithErr(err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.CurrentUser{}, apperr.ErrUnauthorized.WithErr(err)
	}

	if claims.ID != "" {
		revoked, err := s.revoked.Exists(ctx, revokedPrefix+claims.ID)
		if err != nil {
			s.log.Warn("failed to check token revocation", slog.String("op", op), sl.Err(err))
		}
		if revoked {
			return models.CurrentUser{}, apperr.ErrUnauthorized
		}
	}

	user, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.CurrentUser{}, apperr.ErrUnauthorized
	}
	if err != nil {
		return models.CurrentUser{}, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return models.CurrentUser{}, ErrAccountDisabled
	}

	return models.CurrentUser{
		ID:    user.ID,
		Email: user.Email,
		Tier:  user.SubscriptionTier,
	}, nil
}

// Logout отзывает токен до окончания срока его действия.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	const op = "services.auth.Logout"

	claims, err := s.jwtMaker.ParseToken(accessToken)
	if err != nil {
		return apperr.ErrUnauthorized.WithErr(err)
	}
	if claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Set(ctx, revokedPrefix+claims.ID, true, ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// VerifyEmail подтверждает email по одноразовому токену.
func (s *AuthService) VerifyEmail(ctx context.Context, verificationToken string) (*models.User, error) {
	const op = "services.auth.VerifyEmail"

	if verificationToken == "" {
		return nil, ErrInvalidToken
	}
	user, err := s.users.ConsumeVerificationToken(ctx, verificationToken, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("email verified", slog.String("op", op), slog.String("user_id", user.ID.String()))
	if err := s.mailer.SendWelcome(ctx, user.Email); err != nil {
		s.log.Warn("failed to send welcome email", slog.String("op", op), sl.Err(err))
	}
	return user, nil
}

// ResendVerification выпускает новый токен подтверждения. Для неизвестных
// и уже подтверждённых адресов ничего не происходит, результат одинаков.
func (s *AuthService) ResendVerification(ctx context.Context, email string) {
	const op = "services.auth.ResendVerification"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error("failed to load user", sl.Err(err))
		}
		return
	}
	if user.IsVerified || !user.IsActive {
		return
	}

	verification, err := token.New()
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		return
	}
	if err := s.users.SetVerificationToken(ctx, user.ID, verification, s.now().UTC().Add(s.opts.VerificationTTL)); err != nil {
		log.Error("failed to store verification token", sl.Err(err))
		return
	}
	if err := s.mailer.SendVerification(ctx, user.Email, verification); err != nil {
		log.Warn("failed to send verification email", sl.Err(err))
	}
}

// ForgotPassword отправляет ссылку для сброса пароля активному пользователю.
// Ответ не должен раскрывать, зарегистрирован ли адрес.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) {
	const op = "services.auth.ForgotPassword"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error("failed to load user", sl.Err(err))
		}
		return
	}
	if !user.IsActive {
		return
	}

	reset, err := token.New()
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		return
	}
	if err := s.users.SetPasswordResetToken(ctx, user.ID, reset, s.now().UTC().Add(s.opts.ResetTTL)); err != nil {
		log.Error("failed to store reset token", sl.Err(err))
		return
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, reset); err != nil {
		log.Warn("failed to send password reset email", sl.Err(err))
	}
}

// ResetPassword меняет пароль по одноразовому токену сброса.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "services.auth.ResetPassword"

	if resetToken == "" {
		return ErrInvalidToken
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hashed, err := password.GetHash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.ConsumePasswordResetToken(ctx, resetToken, hashed, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("password reset", slog.String("op", op), slog.String("user_id", user.ID.String()))
	return nil
}

// ChangePassword меняет пароль после проверки текущего.
func (s *AuthService) ChangePassword(ctx context.Context, current models.CurrentUser, oldPassword, newPassword string) error {
	const op = "services.auth.ChangePassword"

	user, err := s.loadUser(ctx, current.ID)
	if err != nil {
		return err
	}
	if err := password.CompareHash(user.PasswordHash, oldPassword); err != nil {
		return ErrWrongPassword
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hashed, err := password.GetHash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Profile возвращает профиль пользователя.
func (s *AuthService) Profile(ctx context.Context, current models.CurrentUser) (*models.User, error) {
	return s.loadUser(ctx, current.ID)
}

// UpdateProfile меняет часовой пояс и настройки уведомлений.
func (s *AuthService) UpdateProfile(ctx context.Context, current models.CurrentUser, upd ProfileUpdate) (*models.User, error) {
	const op = "services.auth.UpdateProfile"

	user, err := s.loadUser(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	timezone := user.Timezone
	if upd.Timezone != nil {
		if err := checkTimezone(*upd.Timezone); err != nil {
			return nil, err
		}
		timezone = *upd.Timezone
	}
	settings := user.NotificationSettings
	if upd.NotificationSettings != nil {
		if !models.ValidDeliveryTime(upd.NotificationSettings.DeliveryTime) {
			return nil, ErrInvalidDeliveryTime
		}
		settings = *upd.NotificationSettings
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, timezone, settings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// Deactivate мягко удаляет аккаунт: вход и выданные токены перестают работать.
func (s *AuthService) Deactivate(ctx context.Context, current models.CurrentUser) error {
	const op = "services.auth.Deactivate"

	err := s.users.SetUserActive(ctx, current.ID, false)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("account deactivated", slog.String("op", op), slog.String("user_id", current.ID.String()))
	return nil
}

func (s *AuthService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "services.auth.loadUser"
	user, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func checkPassword(p string) error {
	if err := password.Validate(p); err != nil {
		return ErrWeakPassword.WithDetails(map[string]any{"password": err.Error()})
	}
	return nil
}

func checkTimezone(tz string) error {
	if tz == "" {
		return ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return ErrInvalidTimezone.WithDetails(map[string]any{"timezone": tz})
	}
	return nil
}
