package qotd

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	// Регистрация swagger-спецификации для /docs.
	_ "github.com/magabrotheeeer/quote-of-the-day/docs"
	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/handlers/analytics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/handlers/auth"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/handlers/health"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/handlers/subscription"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/middlewarectx"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/ratelimit"
	analyticsservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/analytics"
	authservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/auth"
	subscriptionservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/subscription"
)

// Deps зависимости маршрутов.
type Deps struct {
	Config        *config.Config
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
	Limiter       middlewarectx.Limiter
	Auth          *authservice.AuthService
	Subscriptions *subscriptionservice.SubscriptionService
	Analytics     *analyticsservice.AnalyticsService
	Webhooks      *billing.WebhookParser
	DB            health.Pinger
	Cache         health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, d Deps) {
	cfg := d.Config

	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middlewarectx.RequestIDHeader,
		middleware.RealIP,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  slog.NewLogLogger(d.Logger.Handler(), slog.LevelInfo),
			NoColor: true,
		}),
		middleware.Recoverer,
		middlewarectx.Metrics(d.Metrics),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middlewarectx.TrustedHosts(cfg.AllowedHosts, d.Logger),
		middlewarectx.SecurityHeaders(cfg.IsProduction()),
	)

	limit := func(rule ratelimit.Rule) func(http.Handler) http.Handler {
		if !cfg.RateLimitEnabled {
			return func(next http.Handler) http.Handler { return next }
		}
		return middlewarectx.RateLimitMiddleware(d.Limiter, rule, d.Metrics, d.Logger)
	}
	authenticated := middlewarectx.JWTMiddleware(d.Auth, d.Logger)

	authHandler := auth.New(d.Logger, d.Auth)
	subHandler := subscription.New(d.Logger, d.Subscriptions, cfg.FrontendURL+"/account")
	webhookHandler := webhook.New(d.Logger, d.Subscriptions, d.Webhooks)
	analyticsHandler := analytics.New(d.Logger, d.Analytics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Открытые конечные точки
			r.With(limit(ratelimit.RuleRegister)).Post("/register", authHandler.Register)
			r.With(limit(ratelimit.RuleLogin)).Post("/login", authHandler.Login)
			r.With(limit(ratelimit.RuleAuth)).Post("/verify-email", authHandler.VerifyEmail)
			r.With(limit(ratelimit.RuleForgotPassword)).Post("/resend-verification", authHandler.ResendVerification)
			r.With(limit(ratelimit.RuleForgotPassword)).Post("/forgot-password", authHandler.ForgotPassword)
			r.With(limit(ratelimit.RuleResetPassword)).Post("/reset-password", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(authenticated, limit(ratelimit.RuleAuth))
				r.Get("/me", authHandler.Me)
				r.Put("/me", authHandler.UpdateMe)
				r.Post("/change-password", authHandler.ChangePassword)
				r.Post("/logout", authHandler.Logout)
				r.Post("/deactivate", authHandler.Deactivate)
			})
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Use(authenticated)
			r.With(limit(ratelimit.RuleSubscriptionGet)).Get("/", subHandler.Get)
			r.With(limit(ratelimit.RuleUpgrade)).Post("/upgrade", subHandler.Upgrade)
			r.With(limit(ratelimit.RuleCancel)).Post("/cancel", subHandler.Cancel)
			r.With(limit(ratelimit.RuleFeatures)).Get("/features", subHandler.Features)
			r.With(limit(ratelimit.RuleCheck)).Get("/check/{feature}", subHandler.Check)
			r.With(limit(ratelimit.RuleSubscriptionGet)).Post("/portal", subHandler.Portal)
		})

		// Webhook провайдера (без аутентификации, проверяется подпись)
		r.Post("/webhooks/stripe", webhookHandler.Stripe)
		r.Get("/webhooks/stripe/config", webhookHandler.Config)

		r.Route("/analytics", func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/subscription-metrics", analyticsHandler.SubscriptionMetrics)
			r.Get("/cohort-analysis", analyticsHandler.CohortAnalysis)
			r.Get("/feature-usage", analyticsHandler.FeatureUsage)
			r.Get("/dashboard", analyticsHandler.Dashboard)
			r.Get("/events", analyticsHandler.Events)
			r.Post("/track/feature-access", analyticsHandler.TrackFeatureAccess)
			r.Post("/track/upgrade-attempt", analyticsHandler.TrackUpgradeAttempt)
			r.Post("/track/cancellation-attempt", analyticsHandler.TrackCancellationAttempt)
		})
	})

	r.Method(http.MethodGet, "/health", health.New(d.Logger, d.DB, d.Cache, cfg.Version, cfg.Env))

	if !cfg.IsProduction() {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}
	if cfg.EnableSwaggerUI {
		r.Get("/docs/*", httpSwagger.WrapHandler)
	}
}
