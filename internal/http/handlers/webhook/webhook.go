// Package webhook принимает события платёжного провайдера и отдаёт
// публичные параметры оплаты для фронтенда.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/subscription"
)

// maxPayloadSize предельный размер тела события.
const maxPayloadSize = 64 << 10

// ErrMalformedEvent тело события не разобрано.
var ErrMalformedEvent = apperr.New(apperr.KindBadRequest, "MALFORMED_EVENT", "malformed webhook payload")

// Parser проверяет подпись и разбирает событие.
type Parser interface {
	Parse(payload []byte, signature string) (billing.Event, error)
}

// Service обрабатывает события и хранит публичные параметры оплаты.
type Service interface {
	HandleWebhook(ctx context.Context, event billing.Event) error
	StripeConfig() services.StripeConfig
}

// Handler обрабатывает запросы /webhooks/stripe.
type Handler struct {
	log     *slog.Logger
	service Service
	parser  Parser
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, parser Parser) *Handler {
	return &Handler{
		log:     log,
		service: service,
		parser:  parser,
	}
}

// StatusResponse ответ провайдеру.
type StatusResponse struct {
	Status string `json:"status" example:"success"`
}

// Stripe godoc
// @Summary Webhook платёжного провайдера
// @Description Проверяет Stripe-Signature и применяет событие. Необрабатываемые и повторные события подтверждаются 200.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} response.ErrorResponse "Нет подписи или она неверна"
// @Failure 500 {object} response.ErrorResponse "Событие не применено, провайдер повторит доставку"
// @Router /webhooks/stripe [post]
func (h *Handler) Stripe(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook.Stripe"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize))
	if err != nil {
		response.Fail(w, r, log, apperr.ErrBadRequest.WithErr(err))
		return
	}

	event, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		log.Warn("webhook signature rejected", sl.Err(err))
		response.Fail(w, r, log, apperr.ErrInvalidSignature.WithErr(err))
		return
	case err != nil:
		log.Warn("webhook payload rejected", sl.Err(err))
		response.Fail(w, r, log, ErrMalformedEvent.WithErr(err))
		return
	}

	meta := event.Meta()
	log = log.With(slog.String("event_id", meta.ID), slog.String("event_type", meta.Type))

	err = h.service.HandleWebhook(r.Context(), event)
	switch {
	case errors.Is(err, services.ErrUnhandledEvent):
		log.Info("webhook event ignored")
		render.JSON(w, r, StatusResponse{Status: "ignored"})
		return
	case err != nil:
		response.Fail(w, r, log, err)
		return
	}

	log.Info("webhook event processed")
	render.JSON(w, r, StatusResponse{Status: "success"})
}

// Config godoc
// @Summary Публичные параметры оплаты
// @Tags Webhooks
// @Produce json
// @Success 200 {object} services.StripeConfig
// @Router /webhooks/stripe/config [get]
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.StripeConfig())
}
