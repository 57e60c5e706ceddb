package models

// EmailKind назначение письма.
type EmailKind string

// Виды писем.
const (
	EmailVerification  EmailKind = "verification"
	EmailPasswordReset EmailKind = "password_reset"
	EmailWelcome       EmailKind = "welcome"
)

// EmailMessage задание на отправку письма, публикуется в очередь notifications.email.
type EmailMessage struct {
	Kind    EmailKind `json:"kind"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
}
