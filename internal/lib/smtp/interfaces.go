// Package smtp предоставляет SMTP-транспорт и отправку текстовых писем.
package smtp

import (
	"errors"
	"io"
)

// ErrNotConfigured SMTP_HOST не задан.
var ErrNotConfigured = errors.New("smtp is not configured")

// Client интерфейс для SMTP клиента.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// TransportInterface интерфейс для SMTP транспорта.
type TransportInterface interface {
	Connect() (Client, error)
	From() string
}
