// Package billing скрывает платёжного провайдера (Stripe) за интерфейсом Provider
// и разбирает его webhook-события в типизированные варианты.
package billing

import (
	"context"
	"errors"
	"time"
)

// Ошибки биллинга.
var (
	ErrNotConfigured    = errors.New("billing provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Customer клиент на стороне провайдера.
type Customer struct {
	ID       string
	Email    string
	Metadata map[string]string
}

// Subscription подписка на стороне провайдера. Status хранится в терминах
// провайдера, перевод в локальный статус делает MapStatus.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

// CreateSubscriptionParams параметры создания подписки.
type CreateSubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	// IdempotencyKey защищает от двойного создания при повторе запроса.
	IdempotencyKey string
	Metadata       map[string]string
}

// Provider операции платёжного провайдера.
type Provider interface {
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID, email string) (*Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error

	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// CancelSubscription отменяет сразу или выставляет отмену в конце периода.
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ListCustomerSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
