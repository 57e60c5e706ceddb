// Package emailsender собирает воркер, который читает задания из очереди
// notifications.email и отправляет письма по SMTP.
package emailsender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/quote-of-the-day/internal/config"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/smtp"
	services "github.com/magabrotheeeer/quote-of-the-day/internal/services/notification"
)

// Ошибки конфигурации воркера.
var (
	ErrNoBroker = errors.New("RABBITMQ_URL is required for the email sender")
	ErrNoSMTP   = errors.New("SMTP_HOST is required for the email sender")
)

// App воркер отправки писем.
type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	worker *services.Worker
	logger *slog.Logger
}

// New подключается к брокеру и объявляет очередь писем.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.emailsender.New"

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoBroker)
	}
	transport := smtp.NewTransport(cfg.SMTP, logger)
	if !transport.Configured() {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSMTP)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.ConnectRetries, cfg.ConnectDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.DefaultConcurrency, rabbitmq.NotificationTopology())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		conn:   conn,
		ch:     ch,
		worker: services.NewWorker(smtp.NewSender(transport, logger), logger),
		logger: logger,
	}, nil
}

// Run обрабатывает очередь до отмены ctx и дожидается запущенных отправок.
func (a *App) Run(ctx context.Context) error {
	done, err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.EmailQueue, rabbitmq.DefaultConcurrency, a.logger, a.worker.Handle)
	if err != nil {
		a.logger.Error("failed to start email consumer", sl.Err(err))
		a.close()
		return err
	}
	a.logger.Info("email sender consuming", slog.String("queue", rabbitmq.EmailQueue))

	<-done
	a.logger.Info("email sender shutting down gracefully")
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
}
