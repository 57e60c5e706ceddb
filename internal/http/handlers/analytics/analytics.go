// Package analytics реализует HTTP-обработчики продуктовой аналитики:
// показатели подписок, когорты, использование функций и запись событий
// со стороны клиента.
package analytics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/middlewarectx"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/request"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/analytics"
)

const (
	defaultMetricsWindow = 30 * 24 * time.Hour
	defaultCohortDays    = 30
	defaultEventsLimit   = 100
)

// Service описывает интерфейс сервиса аналитики.
type Service interface {
	Track(ctx context.Context, event models.AnalyticsEvent)
	Events(eventType models.EventType, limit int) []models.AnalyticsEvent
	FeatureUsage() map[string]services.TierUsage
	SubscriptionMetrics(ctx context.Context, from, to time.Time) (*services.SubscriptionMetrics, error)
	CohortAnalysis(ctx context.Context, periodDays int) ([]services.Cohort, error)
	Dashboard(ctx context.Context) (*services.Dashboard, error)
}

// Handler обрабатывает запросы /analytics.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
	now      func() time.Time
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: request.NewValidator(),
		now:      time.Now,
	}
}

// FeatureAccessRequest обращение клиента к функции.
type FeatureAccessRequest struct {
	Feature   string `json:"feature" validate:"required,max=100"`
	HasAccess bool   `json:"has_access"`
}

// UpgradeAttemptRequest исход попытки оформить премиум на клиенте.
type UpgradeAttemptRequest struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message" validate:"max=500"`
}

// CancellationAttemptRequest исход попытки отмены на клиенте.
type CancellationAttemptRequest struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason" validate:"max=500"`
}

// TrackedResponse подтверждение записи события.
type TrackedResponse struct {
	Status    string `json:"status" example:"tracked"`
	Feature   string `json:"feature,omitempty"`
	HasAccess *bool  `json:"has_access,omitempty"`
	Success   *bool  `json:"success,omitempty"`
}

// EventsFilter применённые фильтры.
type EventsFilter struct {
	EventType string `json:"event_type,omitempty"`
	Limit     int    `json:"limit"`
}

// EventsResponse последние события.
type EventsResponse struct {
	Events  []models.AnalyticsEvent `json:"events"`
	Count   int                     `json:"count"`
	Filters EventsFilter            `json:"filters"`
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request, op string) (*slog.Logger, models.CurrentUser, bool) {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	user, ok := middlewarectx.CurrentUser(r.Context())
	if !ok {
		response.Fail(w, r, log, apperr.ErrUnauthorized)
	}
	return log, user, ok
}

func invalidParam(name, msg string) error {
	return apperr.ErrBadRequest.WithDetails(map[string]any{name: msg})
}

func parseTime(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, invalidParam(name, "must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}

func parseInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, invalidParam(name, "must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
	}
	return n, nil
}

// SubscriptionMetrics godoc
// @Summary Показатели подписок за период
// @Description По умолчанию последние 30 дней.
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param start_date query string false "Начало периода, RFC3339"
// @Param end_date query string false "Конец периода, RFC3339"
// @Success 200 {object} services.SubscriptionMetrics
// @Failure 400 {object} response.ErrorResponse "Некорректный период"
// @Router /analytics/subscription-metrics [get]
func (h *Handler) SubscriptionMetrics(w http.ResponseWriter, r *http.Request) {
	log, _, ok := h.begin(w, r, "handlers.analytics.SubscriptionMetrics")
	if !ok {
		return
	}

	end, err := parseTime(r, "end_date", h.now().UTC())
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	start, err := parseTime(r, "start_date", end.Add(-defaultMetricsWindow))
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	m, err := h.service.SubscriptionMetrics(r.Context(), start, end)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, m)
}

// CohortAnalysis godoc
// @Summary Когорты подписок по месяцам
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param cohort_period_days query int false "Глубина в днях" default(30)
// @Success 200 {array} services.Cohort
// @Router /analytics/cohort-analysis [get]
func (h *Handler) CohortAnalysis(w http.ResponseWriter, r *http.Request) {
	log, _, ok := h.begin(w, r, "handlers.analytics.CohortAnalysis")
	if !ok {
		return
	}

	days, err := parseInt(r, "cohort_period_days", defaultCohortDays, 1, 3650)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	cohorts, err := h.service.CohortAnalysis(r.Context(), days)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, cohorts)
}

// FeatureUsage godoc
// @Summary Использование функций по тарифам
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]services.TierUsage
// @Router /analytics/feature-usage [get]
func (h *Handler) FeatureUsage(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.begin(w, r, "handlers.analytics.FeatureUsage"); !ok {
		return
	}
	render.JSON(w, r, h.service.FeatureUsage())
}

// Dashboard godoc
// @Summary Сводная панель
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.Dashboard
// @Router /analytics/dashboard [get]
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	log, _, ok := h.begin(w, r, "handlers.analytics.Dashboard")
	if !ok {
		return
	}

	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}
	render.JSON(w, r, d)
}

// Events godoc
// @Summary Последние события
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param event_type query string false "Тип события"
// @Param limit query int false "Количество" default(100)
// @Success 200 {object} EventsResponse
// @Failure 400 {object} response.ErrorResponse "Неизвестный тип или лимит"
// @Router /analytics/events [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	log, _, ok := h.begin(w, r, "handlers.analytics.Events")
	if !ok {
		return
	}

	eventType := models.EventType(r.URL.Query().Get("event_type"))
	if eventType != "" && !models.ValidEventType(eventType) {
		response.Fail(w, r, log, invalidParam("event_type", "unknown event type"))
		return
	}
	limit, err := parseInt(r, "limit", defaultEventsLimit, 1, services.BufferSize)
	if err != nil {
		response.Fail(w, r, log, err)
		return
	}

	events := h.service.Events(eventType, limit)
	render.JSON(w, r, EventsResponse{
		Events:  events,
		Count:   len(events),
		Filters: EventsFilter{EventType: string(eventType), Limit: limit},
	})
}

// TrackFeatureAccess godoc
// @Summary Запись обращения к функции
// @Tags Analytics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body FeatureAccessRequest true "Событие"
// @Success 200 {object} TrackedResponse
// @Router /analytics/track/feature-access [post]
func (h *Handler) TrackFeatureAccess(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.analytics.TrackFeatureAccess")
	if !ok {
		return
	}

	var req FeatureAccessRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	h.service.Track(r.Context(), models.AnalyticsEvent{
		Type:   models.EventFeatureAccessed,
		UserID: user.ID.String(),
		Properties: map[string]any{
			"feature":    req.Feature,
			"has_access": req.HasAccess,
			"tier":       string(user.Tier),
		},
	})
	render.JSON(w, r, TrackedResponse{Status: "tracked", Feature: req.Feature, HasAccess: &req.HasAccess})
}

// TrackUpgradeAttempt godoc
// @Summary Запись попытки оформления премиума
// @Tags Analytics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpgradeAttemptRequest true "Событие"
// @Success 200 {object} TrackedResponse
// @Router /analytics/track/upgrade-attempt [post]
func (h *Handler) TrackUpgradeAttempt(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.analytics.TrackUpgradeAttempt")
	if !ok {
		return
	}

	var req UpgradeAttemptRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	props := map[string]any{"success": req.Success, "source": "client"}
	if req.ErrorMessage != "" {
		props["error_message"] = req.ErrorMessage
	}
	h.service.Track(r.Context(), models.AnalyticsEvent{
		Type:       models.EventUpgradeAttempted,
		UserID:     user.ID.String(),
		Properties: props,
	})
	render.JSON(w, r, TrackedResponse{Status: "tracked", Success: &req.Success})
}

// TrackCancellationAttempt godoc
// @Summary Запись попытки отмены
// @Tags Analytics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CancellationAttemptRequest true "Событие"
// @Success 200 {object} TrackedResponse
// @Router /analytics/track/cancellation-attempt [post]
func (h *Handler) TrackCancellationAttempt(w http.ResponseWriter, r *http.Request) {
	log, user, ok := h.begin(w, r, "handlers.analytics.TrackCancellationAttempt")
	if !ok {
		return
	}

	var req CancellationAttemptRequest
	if err := request.Decode(r, h.validate, &req, false); err != nil {
		response.Fail(w, r, log, err)
		return
	}

	props := map[string]any{"success": req.Success, "source": "client"}
	if req.Reason != "" {
		props["reason"] = req.Reason
	}
	h.service.Track(r.Context(), models.AnalyticsEvent{
		Type:       models.EventCancellationAttempted,
		UserID:     user.ID.String(),
		Properties: props,
	})
	render.JSON(w, r, TrackedResponse{Status: "tracked", Success: &req.Success})
}
