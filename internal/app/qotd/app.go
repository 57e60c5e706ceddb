// Package qotd собирает HTTP API сервиса: хранилище, кеш, биллинг, сервисы
// и маршруты, а также необязательный gRPC health-сервер.
package qotd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/cache"
	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	grpchealth "github.com/magabrotheeeer/quote-of-the-day/internal/grpc/health"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/jwt"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/smtp"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/migrations"
	"github.com/magabrotheeeer/quote-of-the-day/internal/ratelimit"
	analyticsservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/analytics"
	authservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/auth"
	notificationservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/notification"
	subscriptionservice "github.com/magabrotheeeer/quote-of-the-day/internal/services/subscription"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App HTTP API и его ресурсы.
type App struct {
	server    *http.Server
	health    *grpchealth.Server
	healthLis net.Listener
	logger    *slog.Logger
	db        *storage.Storage
	cache     cache.Store
	analytics *analyticsservice.AnalyticsService
	amqpConn  *amqp.Connection
	amqpCh    *amqp.Channel
}

// New подключается к зависимостям, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.qotd.New"

	db, err := storage.New(ctx, cfg.DatabaseURL, storage.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a := &App{logger: logger, db: db}

	if err = migrations.Run(db.DB.DB); err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a.cache, err = cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		mailQueue  notificationservice.Publisher
		eventQueue analyticsservice.Publisher
	)
	if cfg.RabbitMQURL != "" {
		a.amqpConn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.ConnectRetries, cfg.ConnectDelay)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.amqpCh, err = rabbitmq.SetupChannel(a.amqpConn, 0,
			rabbitmq.NotificationTopology(), rabbitmq.AnalyticsTopology())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		mailQueue = notificationservice.NewQueuePublisher(a.amqpCh)
		eventQueue = analyticsservice.NewQueuePublisher(a.amqpCh)
	} else {
		logger.Info("RABBITMQ_URL is empty, emails are sent inline and events are not fanned out")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	mailer := notificationservice.NewNotificationService(
		mailQueue,
		smtp.NewSender(smtp.NewTransport(cfg.SMTP, logger), logger),
		logger,
		cfg.FrontendURL,
	)
	analytics := analyticsservice.NewAnalyticsService(db, eventQueue, m, logger)
	a.analytics = analytics

	auth := authservice.NewAuthService(
		db,
		jwt.NewJWTMaker(cfg.SecretKey, cfg.TokenTTL()),
		mailer,
		a.cache,
		analytics,
		logger,
		authservice.Options{
			VerificationTTL: cfg.VerificationTokenTTL,
			ResetTTL:        cfg.ResetTokenTTL,
		},
	)

	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is empty, billing calls will fail")
	}
	provider := billing.NewStripeClient(billing.StripeOptions{
		SecretKey:   cfg.StripeSecretKey,
		RPS:         cfg.StripeRPS,
		MaxAttempts: cfg.StripeMaxRetries,
	}, logger, m)

	subscriptions := subscriptionservice.NewSubscriptionService(db, provider, a.cache, analytics, logger,
		subscriptionservice.Options{
			PremiumPriceID: cfg.StripePremiumPriceID,
			PublishableKey: cfg.StripePublishableKey,
			Metrics:        m,
		})

	router := chi.NewRouter()
	RegisterRoutes(router, Deps{
		Config:        cfg,
		Logger:        logger,
		Metrics:       m,
		Registry:      reg,
		Limiter:       ratelimit.New(a.cache),
		Auth:          auth,
		Subscriptions: subscriptions,
		Analytics:     analytics,
		Webhooks:      billing.NewWebhookParser(cfg.StripeWebhookSecret),
		DB:            db,
		Cache:         a.cache,
	})

	a.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if cfg.GRPCHealthAddress != "" {
		a.healthLis, err = net.Listen("tcp", cfg.GRPCHealthAddress)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.health = grpchealth.New(db, a.cache, 0, logger)
	}

	return a, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает серверы и
// закрывает соединения.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	healthDone := make(chan struct{})
	if a.health != nil {
		go func() {
			defer close(healthDone)
			if err := a.health.Serve(healthCtx, a.healthLis); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(healthDone)
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down HTTP server gracefully")
	if err := a.server.Shutdown(timeoutCtx); err != nil && runErr == nil {
		runErr = err
	}
	stopHealth()
	<-healthDone

	a.close()
	return runErr
}

func (a *App) close() {
	if a.analytics != nil {
		a.analytics.Close()
	}
	if a.amqpCh != nil {
		if err := a.amqpCh.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
