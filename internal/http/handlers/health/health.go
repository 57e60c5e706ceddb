// Package health отдаёт состояние сервиса и его зависимостей.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

// Состояния сервиса и отдельных проверок.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const checkTimeout = 2 * time.Second

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает запросы /health.
type Handler struct {
	log     *slog.Logger
	db      Pinger
	cache   Pinger
	version string
	env     string
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, db, cache Pinger, version, env string) *Handler {
	return &Handler{
		log:     log,
		db:      db,
		cache:   cache,
		version: version,
		env:     env,
	}
}

// Checks результаты проверок зависимостей.
type Checks struct {
	Database string `json:"database" example:"healthy"`
	Cache    string `json:"cache" example:"healthy"`
}

// Response состояние сервиса.
type Response struct {
	Status      string `json:"status" example:"healthy"`
	Version     string `json:"version" example:"1.0.0"`
	Environment string `json:"environment" example:"production"`
	Checks      Checks `json:"checks"`
}

// Check опрашивает зависимости. База обязательна, без кеша сервис деградирует.
func (h *Handler) Check(ctx context.Context) Response {
	resp := Response{
		Status:      StatusHealthy,
		Version:     h.version,
		Environment: h.env,
		Checks:      Checks{Database: StatusHealthy, Cache: StatusHealthy},
	}

	if err := h.ping(ctx, h.cache); err != nil {
		h.log.Warn("cache health check failed", sl.Err(err))
		resp.Checks.Cache = StatusUnhealthy
		resp.Status = StatusDegraded
	}
	if err := h.ping(ctx, h.db); err != nil {
		h.log.Error("database health check failed", sl.Err(err))
		resp.Checks.Database = StatusUnhealthy
		resp.Status = StatusUnhealthy
	}
	return resp
}

func (h *Handler) ping(ctx context.Context, p Pinger) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// ServeHTTP godoc
// @Summary Состояние сервиса
// @Description Без кеша сервис деградирует, но отвечает 200. Без базы отвечает 503.
// @Tags Health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Check(r.Context())
	if resp.Status == StatusUnhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
