package billing

import (
	"time"

	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Типы событий провайдера, которые обрабатывает сервис.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// EventMeta общие поля всех событий.
type EventMeta struct {
	ID        string
	Type      string
	CreatedAt time.Time
}

// Meta возвращает общие поля события.
func (m EventMeta) Meta() EventMeta { return m }

func (EventMeta) isEvent() {}

// Event закрытый набор вариантов webhook-события. Реализуется только типами
// этого пакета.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// SubscriptionCreated подписка создана у провайдера.
type SubscriptionCreated struct {
	EventMeta
	Subscription Subscription
}

// SubscriptionUpdated изменились статус, период или флаг отмены.
type SubscriptionUpdated struct {
	EventMeta
	Subscription Subscription
}

// SubscriptionDeleted подписка окончательно отменена.
type SubscriptionDeleted struct {
	EventMeta
	Subscription Subscription
}

// InvoicePaymentSucceeded оплата счёта прошла.
type InvoicePaymentSucceeded struct {
	EventMeta
	SubscriptionID string
	CustomerID     string
	AmountPaid     int64
}

// InvoicePaymentFailed оплата счёта не прошла.
type InvoicePaymentFailed struct {
	EventMeta
	SubscriptionID string
	CustomerID     string
	AttemptCount   int64
}

// Unhandled событие, для которого нет обработчика.
type Unhandled struct {
	EventMeta
}

// MapStatus переводит статус провайдера в локальный. Неизвестные статусы
// (trialing, unpaid, incomplete_expired, paused) считаются incomplete.
func MapStatus(providerStatus string) models.Status {
	switch providerStatus {
	case "active":
		return models.StatusActive
	case "canceled":
		return models.StatusCancelled
	case "past_due":
		return models.StatusPastDue
	case "incomplete":
		return models.StatusIncomplete
	default:
		return models.StatusIncomplete
	}
}
