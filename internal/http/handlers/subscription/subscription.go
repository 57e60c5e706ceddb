// Package subscription реализует HTTP-обработчики тарифа пользователя:
// состояние подписки, оформление и отмена премиума, проверка доступа к функциям.
package subscription

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/middlewarectx"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/request"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/subscription"
)

// Service описывает интерфейс бизнес-логики подписок.
type Service interface {
	Status(ctx context.Context, user models.CurrentUser) (*services.StatusView, error)
	Upgrade(ctx context.Context, user models.CurrentUser, paymentMethodID string) (*models.Subscription, error)
	Cancel(ctx context.Context, user models.CurrentUser, reason string) (*models.Subscription, error)
	FeaturesFor(ctx context.Context, user models.CurrentUser) (models.Tier, map[string]bool, error)
	HasAccess(ctx context.Context, user models.CurrentUser, feature string) (bool, error)
	BillingPortal(ctx context.Context, user models.CurrentUser, returnURL string) (string, error)
}

// Handler обрабатывает запросы /subscription.
type Handler struct {
	log       *slog.Logger
	service   Service
	validate  *validator.Validate
	returnURL string
}

// New создает новый экземпляр Handler. returnURL адрес возврата из
// биллингового портала по умолчанию.
func New(log *slog.Logger, service Service, returnURL string) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		validate:  request.NewValidator(),
		returnURL: returnURL,
	}
}

// UpgradeRequest способ оплаты из Stripe Elements.
type UpgradeRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=255"`
}

// CancelRequest причина отмены.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CancelResponse результат отмены.
type CancelResponse struct {
	Message     string     `json:"message"`
	CancelledAt *time.Time `json:"cancelled_at"`
}

// FeaturesResponse функции действующего тарифа.
type FeaturesResponse struct {
	Tier     models.Tier     `json:"tier"`
	Features map[string]bool `json:"features"`
}

// CheckResponse результат проверки доступа.
type CheckResponse struct {
	Feature   string `json:"feature"`
	HasAccess bool   `json:"has_access"`
	UserID    string `json:"user_id"`
}

// PortalRequest адрес возврата из портала.
type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url,max=2048"`
}

// PortalResponse ссылка на портал.
type PortalResponse struct {
	URL string `json:"url"`
}

// begin общий пролог обработчиков: логгер запроса и текущий пользователь.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, op string) (*slog.Logger, models.CurrentUser, bool) {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	user, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
		return log, user, false
	}
	return log.With(slog.String("user_id", user.ID.String())), user, true
}

// Get godoc
// @Summary Состояние подписки
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.StatusView
// @Failure 401 {object} response.ErrorResponse
// @Router /subscription [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Get")
	if !ok {
		return
	}

	view, err := h.service.Status(r.Context(), user)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, view)
}

// Upgrade godoc
// @Summary Оформление премиум-подписки
// @Tags Subscription
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpgradeRequest true "Способ оплаты"
// @Success 200 {object} models.Subscription
// @Failure 409 {object} response.ErrorResponse "Премиум уже активен"
// @Failure 502 {object} response.ErrorResponse "Ошибка платёжного провайдера"
// @Router /subscription/upgrade [post]
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Upgrade")
	if !ok {
		return
	}

	var req UpgradeRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	pm := strings.TrimSpace(req.PaymentMethodID)
	if pm == "" {
		response.Fail(w, r, log, apperr.ErrValidation.WithDetails(map[string]any{
			"payment_method_id": "field is required",
		}))
		return
	}

	sub, err := h.service.Upgrade(r.Context(), user, pm)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("subscription upgraded")
	render.JSON(w, r, sub)
}

// Cancel godoc
// @Summary Отмена премиум-подписки
// @Description Доступ к премиум-функциям прекращается сразу, у провайдера подписка отменяется в конце периода.
// @Tags Subscription
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CancelRequest false "Причина"
// @Success 200 {object} CancelResponse
// @Failure 400 {object} response.ErrorResponse "Нет премиум-подписки"
// @Failure 404 {object} response.ErrorResponse "Подписка не найдена"
// @Router /subscription/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Cancel")
	if !ok {
		return
	}

	var req CancelRequest
	if err := request.Decode(r, h.validate, &req, true); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	sub, err := h.service.Cancel(r.Context(), user, req.Reason)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	log.Info("subscription cancelled")
	render.JSON(w, r, CancelResponse{
		Message:     "Subscription cancelled successfully",
		CancelledAt: sub.CancelledAt,
	})
}

// Features godoc
// @Summary Функции действующего тарифа
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} FeaturesResponse
// @Router /subscription/features [get]
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Features")
	if !ok {
		return
	}

	tier, features, err := h.service.FeaturesFor(r.Context(), user)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, FeaturesResponse{Tier: tier, Features: features})
}

// Check godoc
// @Summary Проверка доступа к функции
// @Description Неизвестная функция всегда недоступна.
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Param feature path string true "Имя функции" example(quote_search)
// @Success 200 {object} CheckResponse
// @Router /subscription/check/{feature} [get]
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Check")
	if !ok {
		return
	}

	feature := chi.URLParam(r, "feature")
	allowed, err := h.service.HasAccess(r.Context(), user, feature)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, CheckResponse{
		Feature:   feature,
		HasAccess: allowed,
		UserID:    user.ID.String(),
	})
}

// Portal godoc
// @Summary Ссылка на биллинговый портал
// @Tags Subscription
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PortalRequest false "Адрес возврата"
// @Success 200 {object} PortalResponse
// @Failure 404 {object} response.ErrorResponse "Нет платёжного аккаунта"
// @Router /subscription/portal [post]
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.subscription.Portal")
	if !ok {
		return
	}

	var req PortalRequest
	if err := request.Decode(r, h.validate, &req, true); err != nil {
		response.Fail(w, r, log, err)
		return
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = h.returnURL
	}

	url, err := h.service.BillingPortal(r.Context(), user, returnURL)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, PortalResponse{URL: url})
}
