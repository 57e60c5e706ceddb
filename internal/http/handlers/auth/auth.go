// Package auth реализует HTTP-обработчики регистрации, входа, подтверждения
// email, восстановления пароля и управления профилем.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/middlewarectx"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/request"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/auth"
)

// Ответы, одинаковые для любого email.
const (
	MsgResendVerification = "If the email is registered and not yet verified, a verification link has been sent"
	MsgForgotPassword     = "If the email exists, a password reset link has been sent"
)

// Service описывает интерфейс бизнес-логики аутентификации.
type Service interface {
	Register(ctx context.Context, email, password, timezone string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
	ResendVerification(ctx context.Context, email string)
	ForgotPassword(ctx context.Context, email string)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, current models.CurrentUser, oldPassword, newPassword string) error
	Profile(ctx context.Context, current models.CurrentUser) (*models.User, error)
	UpdateProfile(ctx context.Context, current models.CurrentUser, upd services.ProfileUpdate) (*models.User, error)
	Logout(ctx context.Context, token string) error
	Deactivate(ctx context.Context, current models.CurrentUser) error
}

// Handler обрабатывает запросы /auth.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: request.NewValidator(),
	}
}

// RegisterRequest данные регистрации.
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,password"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Timezone        string `json:"timezone" validate:"max=64"`
}

// LoginRequest учетные данные.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// TokenRequest одноразовый токен из письма.
type TokenRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

// EmailRequest адрес для повторной отправки письма.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest новый пароль по токену сброса.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required,max=256"`
	NewPassword     string `json:"new_password" validate:"required,password"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=NewPassword"`
}

// ChangePasswordRequest смена пароля авторизованным пользователем.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,password"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=NewPassword"`
}

// UpdateProfileRequest изменяемые поля профиля.
type UpdateProfileRequest struct {
	Timezone             *string                      `json:"timezone" validate:"omitempty,max=64"`
	NotificationSettings *models.NotificationSettings `json:"notification_settings"`
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// Register godoc
// @Summary Регистрация пользователя
// @Description Создает неподтверждённого пользователя с бесплатным тарифом и отправляет письмо для подтверждения email.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Данные регистрации"
// @Success 201 {object} models.User
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 409 {object} response.ErrorResponse "Email уже зарегистрирован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Register"
	log := h.logger(r, op)

	var req RegisterRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.Timezone)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("user registered", slog.String("user_id", user.ID.String()))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, user)
}

// Login godoc
// @Summary Авторизация пользователя
// @Description Проверяет email и пароль, возвращает access-токен.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Учетные данные"
// @Success 200 {object} services.LoginResult
// @Failure 401 {object} response.ErrorResponse "Неверные учетные данные"
// @Failure 403 {object} response.ErrorResponse "Аккаунт деактивирован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Login"
	log := h.logger(r, op)

	var req LoginRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("login success", slog.String("user_id", res.User.ID.String()))
	render.JSON(w, r, res)
}

// VerifyEmail godoc
// @Summary Подтверждение email
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Токен из письма"
// @Success 200 {object} response.MessageResponse
// @Failure 400 {object} response.ErrorResponse "Токен недействителен или истёк"
// @Router /auth/verify-email [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.VerifyEmail"
	log := h.logger(r, op)

	var req TokenRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	user, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("email verified", slog.String("user_id", user.ID.String()))
	render.JSON(w, r, response.Message("Email verified successfully"))
}

// ResendVerification godoc
// @Summary Повторная отправка письма подтверждения
// @Description Ответ не зависит от того, зарегистрирован ли email.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} response.MessageResponse
// @Router /auth/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.ResendVerification"
	log := h.logger(r, op)

	var req EmailRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	h.service.ResendVerification(r.Context(), req.Email)
	render.JSON(w, r, response.Message(MsgResendVerification))
}

// ForgotPassword godoc
// @Summary Запрос сброса пароля
// @Description Ответ одинаков для известных и неизвестных адресов.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} response.MessageResponse
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Router /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.ForgotPassword"
	log := h.logger(r, op)

	var req EmailRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	h.service.ForgotPassword(r.Context(), req.Email)
	render.JSON(w, r, response.Message(MsgForgotPassword))
}

// ResetPassword godoc
// @Summary Сброс пароля по токену
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Токен и новый пароль"
// @Success 200 {object} response.MessageResponse
// @Failure 400 {object} response.ErrorResponse "Токен недействителен или истёк"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.ResetPassword"
	log := h.logger(r, op)

	var req ResetPasswordRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.Message("Password reset successfully"))
}

// Me godoc
// @Summary Профиль текущего пользователя
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} response.ErrorResponse
// @Router /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Me"
	log := h.logger(r, op)

	current, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
		return
	}

	user, err := h.service.Profile(r.Context(), current)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, user)
}

// UpdateMe godoc
// @Summary Обновление профиля
// @Description Меняет часовой пояс и настройки уведомлений. Отсутствующие поля не меняются.
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateProfileRequest true "Изменения"
// @Success 200 {object} models.User
// @Failure 422 {object} response.ErrorResponse "Неизвестный часовой пояс или формат времени"
// @Router /auth/me [put]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.UpdateMe"
	log := h.logger(r, op)

	current, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
		return
	}

	var req UpdateProfileRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), current, services.ProfileUpdate{
		Timezone:             req.Timezone,
		NotificationSettings: req.NotificationSettings,
	})
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("profile updated", slog.String("user_id", current.ID.String()))
	render.JSON(w, r, user)
}

// ChangePassword godoc
// @Summary Смена пароля
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Текущий и новый пароль"
// @Success 200 {object} response.MessageResponse
// @Failure 400 {object} response.ErrorResponse "Текущий пароль неверен"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.ChangePassword"
	log := h.logger(r, op)

	current, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), current, req.CurrentPassword, req.NewPassword); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.Message("Password changed successfully"))
}

// Logout godoc
// @Summary Выход
// @Description Отзывает текущий access-токен до истечения его срока.
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.MessageResponse
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Logout"
	log := h.logger(r, op)

	if err := h.service.Logout(r.Context(), middlewarectx.AccessToken(r.Context())); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, response.Message("Logged out successfully"))
}

// Deactivate godoc
// @Summary Деактивация аккаунта
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.MessageResponse
// @Router /auth/deactivate [post]
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Deactivate"
	log := h.logger(r, op)

	current, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
		return
	}

	if err := h.service.Deactivate(r.Context(), current); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("account deactivated", slog.String("user_id", current.ID.String()))
	render.JSON(w, r, response.Message("Account deactivated successfully"))
}
