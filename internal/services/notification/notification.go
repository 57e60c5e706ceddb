// Package services отправляет письма пользователям: через очередь RabbitMQ,
// если брокер настроен, иначе напрямую по SMTP.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Publisher ставит письмо в очередь.
type Publisher interface {
	Publish(ctx context.Context, msg models.EmailMessage) error
}

// Sender отправляет письмо немедленно.
type Sender interface {
	Send(msg models.EmailMessage) error
}

// QueuePublisher публикует письма в exchange notifications.
type QueuePublisher struct {
	ch rabbitmq.Channel
}

// NewQueuePublisher создает новый экземпляр QueuePublisher.
func NewQueuePublisher(ch rabbitmq.Channel) *QueuePublisher {
	return &QueuePublisher{ch: ch}
}

// Publish публикует задание на отправку письма.
func (p *QueuePublisher) Publish(ctx context.Context, msg models.EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return rabbitmq.PublishMessage(p.ch, rabbitmq.NotificationsExchange, rabbitmq.EmailRoutingKey, msg)
}

// NotificationService формирует письма и передаёт их на доставку.
type NotificationService struct {
	publisher   Publisher
	sender      Sender
	log         *slog.Logger
	frontendURL string
}

// NewNotificationService создает новый экземпляр NotificationService.
// publisher может быть nil, тогда письма отправляются синхронно через sender.
func NewNotificationService(publisher Publisher, sender Sender, log *slog.Logger, frontendURL string) *NotificationService {
	return &NotificationService{
		publisher:   publisher,
		sender:      sender,
		log:         log,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// SendVerification письмо со ссылкой подтверждения email.
func (s *NotificationService) SendVerification(ctx context.Context, email, token string) error {
	link := s.link("/verify-email", token)
	return s.deliver(ctx, models.EmailMessage{
		Kind:    models.EmailVerification,
		To:      email,
		Subject: "Confirm your email for Quote of the Day",
		Body: fmt.Sprintf("Welcome to Quote of the Day!\n\n"+
			"Please confirm your email address by opening the link below:\n%s\n\n"+
			"The link is valid for 24 hours.", link),
	})
}

// SendPasswordReset письмо со ссылкой сброса пароля.
func (s *NotificationService) SendPasswordReset(ctx context.Context, email, token string) error {
	link := s.link("/reset-password", token)
	return s.deliver(ctx, models.EmailMessage{
		Kind:    models.EmailPasswordReset,
		To:      email,
		Subject: "Reset your Quote of the Day password",
		Body: fmt.Sprintf("We received a request to reset your password.\n\n"+
			"Open the link below to choose a new one:\n%s\n\n"+
			"The link is valid for 1 hour. If you did not request a reset, ignore this email.", link),
	})
}

// SendWelcome приветственное письмо после подтверждения email.
func (s *NotificationService) SendWelcome(ctx context.Context, email string) error {
	return s.deliver(ctx, models.EmailMessage{
		Kind:    models.EmailWelcome,
		To:      email,
		Subject: "Welcome to Quote of the Day",
		Body: "Your email is confirmed. Your first quote arrives tomorrow morning.\n\n" +
			"Upgrade to Premium any time to unlock search, history and export.",
	})
}

func (s *NotificationService) link(path, token string) string {
	return s.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (s *NotificationService) deliver(ctx context.Context, msg models.EmailMessage) error {
	const op = "services.notification.deliver"
	log := s.log.With(slog.String("op", op), slog.String("kind", string(msg.Kind)))

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, msg)
		if err == nil {
			log.Debug("email queued")
			return nil
		}
		log.Warn("failed to queue email, sending inline", sl.Err(err))
	}

	if err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
