package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/smtp"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Worker обрабатывает задания из очереди notifications.email.
type Worker struct {
	sender      Sender
	log         *slog.Logger
	maxAttempts uint64
	interval    time.Duration
}

// NewWorker создает новый экземпляр Worker.
func NewWorker(sender Sender, log *slog.Logger) *Worker {
	return &Worker{
		sender:      sender,
		log:         log,
		maxAttempts: 3,
		interval:    500 * time.Millisecond,
	}
}

// Handle отправляет письмо из тела сообщения. Нечитаемое сообщение
// подтверждается и пропускается, чтобы не зациклить очередь.
func (w *Worker) Handle(body []byte) error {
	const op = "services.notification.Worker.Handle"

	var msg models.EmailMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.log.Error("failed to unmarshal message body, dropping", slog.String("op", op), sl.Err(err))
		return nil
	}
	if msg.To == "" {
		w.log.Error("email job without recipient, dropping", slog.String("op", op))
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.interval
	err := backoff.Retry(func() error {
		err := w.sender.Send(msg)
		if errors.Is(err, smtp.ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, w.maxAttempts-1))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
