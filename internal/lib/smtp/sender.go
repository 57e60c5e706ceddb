package smtp

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Sender отправляет письма через транспорт.
type Sender struct {
	transport TransportInterface
	log       *slog.Logger
}

// NewSender создает новый экземпляр Sender.
func NewSender(transport TransportInterface, log *slog.Logger) *Sender {
	return &Sender{transport: transport, log: log}
}

// Send отправляет одно текстовое письмо.
func (s *Sender) Send(msg models.EmailMessage) error {
	const op = "smtp.Sender.Send"
	if msg.To == "" {
		return fmt.Errorf("%s: empty recipient", op)
	}

	client, err := s.transport.Connect()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	// после QUIT Close возвращает ошибку закрытого соединения
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("smtp client close", sl.Err(err))
		}
	}()

	from := s.transport.From()
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("%s: MAIL FROM %s: %w", op, from, err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("%s: RCPT TO %s: %w", op, msg.To, err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%s: DATA: %w", op, err)
	}
	if _, err := wc.Write([]byte(Compose(from, msg))); err != nil {
		return fmt.Errorf("%s: write body: %w", op, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%s: close body: %w", op, err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("%s: QUIT: %w", op, err)
	}

	s.log.Info("email sent successfully", slog.String("to", msg.To), slog.String("kind", string(msg.Kind)))
	return nil
}

// Compose собирает RFC 5322 сообщение с заголовками.
func Compose(from string, msg models.EmailMessage) string {
	return strings.Join([]string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		msg.Body,
	}, "\r\n")
}
