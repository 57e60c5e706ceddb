package qotd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/cache"
	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/ratelimit"
)

type pinger struct {
	err error
}

func (p pinger) Ping(context.Context) error {
	return p.err
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newRouter(t *testing.T, cfg *config.Config, db pinger) http.Handler {
	t.Helper()
	store := cache.NewMemory(0)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	r := chi.NewRouter()
	RegisterRoutes(r, Deps{
		Config:   cfg,
		Logger:   newNoopLogger(),
		Metrics:  metrics.New(reg),
		Registry: reg,
		Limiter:  ratelimit.New(store),
		Webhooks: billing.NewWebhookParser("whsec_test"),
		DB:       db,
		Cache:    store,
	})
	return r
}

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:     env,
		Version: "1.0.0",
		HTTPServer: config.HTTPServer{
			AllowedHosts:     []string{"api.example.com", "localhost"},
			FrontendURL:      "http://localhost:3000",
			RateLimitEnabled: true,
		},
	}
}

func get(h http.Handler, host, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Health(t *testing.T) {
	h := newRouter(t, testConfig(config.EnvDevelopment), pinger{})

	rec := get(h, "api.example.com", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	h = newRouter(t, testConfig(config.EnvDevelopment), pinger{err: errors.New("down")})
	rec = get(h, "api.example.com", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_UntrustedHost(t *testing.T) {
	h := newRouter(t, testConfig(config.EnvDevelopment), pinger{})

	rec := get(h, "evil.example.org", "/health")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutes_ProtectedRequireToken(t *testing.T) {
	h := newRouter(t, testConfig(config.EnvDevelopment), pinger{})

	for _, path := range []string{
		"/api/v1/subscription",
		"/api/v1/subscription/features",
		"/api/v1/auth/me",
		"/api/v1/analytics/dashboard",
	} {
		rec := get(h, "localhost", path)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRoutes_MetricsHiddenInProduction(t *testing.T) {
	dev := newRouter(t, testConfig(config.EnvDevelopment), pinger{})
	assert.Equal(t, http.StatusOK, get(dev, "localhost", "/metrics").Code)

	prod := newRouter(t, testConfig(config.EnvProduction), pinger{})
	assert.Equal(t, http.StatusNotFound, get(prod, "localhost", "/metrics").Code)
	assert.NotEmpty(t, get(prod, "localhost", "/health").Header().Get("Strict-Transport-Security"))
}

func TestRoutes_SwaggerToggle(t *testing.T) {
	cfg := testConfig(config.EnvDevelopment)
	assert.Equal(t, http.StatusNotFound, get(newRouter(t, cfg, pinger{}), "localhost", "/docs/index.html").Code)

	cfg.EnableSwaggerUI = true
	assert.Equal(t, http.StatusOK, get(newRouter(t, cfg, pinger{}), "localhost", "/docs/index.html").Code)
}

func TestRoutes_WebhookRejectsUnsigned(t *testing.T) {
	h := newRouter(t, testConfig(config.EnvDevelopment), pinger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil)
	req.Host = "localhost"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
}
