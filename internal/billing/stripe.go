package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
)

// StripeOptions параметры клиента Stripe.
type StripeOptions struct {
	SecretKey string
	// RPS и Burst ограничивают исходящие запросы на стороне клиента.
	RPS   float64
	Burst int
	// MaxAttempts число попыток одного вызова, включая первую.
	MaxAttempts     uint64
	InitialInterval time.Duration
	// BaseURL переопределяет адрес API (для тестов).
	BaseURL    string
	HTTPClient *http.Client
}

// StripeClient реализация Provider поверх stripe-go.
type StripeClient struct {
	api             *client.API
	limiter         *rate.Limiter
	maxAttempts     uint64
	initialInterval time.Duration
	log             *slog.Logger
	metrics         *metrics.Metrics
}

var _ Provider = (*StripeClient)(nil)

// NewStripeClient создаёт клиент. Встроенные повторы stripe-go отключены,
// повторами управляет backoff.
func NewStripeClient(opts StripeOptions, log *slog.Logger, m *metrics.Metrics) *StripeClient {
	if opts.RPS <= 0 {
		opts.RPS = 25
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        opts.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripe.String(opts.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	return &StripeClient{
		api:             client.New(opts.SecretKey, backends),
		limiter:         rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		log:             log,
		metrics:         m,
	}
}

// call выполняет fn с ограничением частоты и повтором временных ошибок.
func (c *StripeClient) call(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxAttempts-1), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		c.log.Warn("billing call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			sl.Err(err),
		)
		return err
	}, policy)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.metrics != nil {
		c.metrics.BillingCalls.WithLabelValues(op, outcome).Inc()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// isTransient сетевые ошибки, 429 и 5xx повторяются, остальные ответы API нет.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}

func params(ctx context.Context) stripe.Params {
	return stripe.Params{Context: ctx}
}

func fromStripeCustomer(cu *stripe.Customer) *Customer {
	return &Customer{ID: cu.ID, Email: cu.Email, Metadata: cu.Metadata}
}

// CreateCustomer создаёт клиента с email и метаданными.
func (c *StripeClient) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error) {
	p := &stripe.CustomerParams{Params: params(ctx), Email: stripe.String(email)}
	for k, v := range metadata {
		p.AddMetadata(k, v)
	}
	var cu *stripe.Customer
	err := c.call(ctx, "billing.CreateCustomer", func() (err error) {
		cu, err = c.api.Customers.New(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeCustomer(cu), nil
}

func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	p := &stripe.CustomerParams{Params: params(ctx)}
	var cu *stripe.Customer
	err := c.call(ctx, "billing.GetCustomer", func() (err error) {
		cu, err = c.api.Customers.Get(customerID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeCustomer(cu), nil
}

func (c *StripeClient) UpdateCustomer(ctx context.Context, customerID, email string) (*Customer, error) {
	p := &stripe.CustomerParams{Params: params(ctx), Email: stripe.String(email)}
	var cu *stripe.Customer
	err := c.call(ctx, "billing.UpdateCustomer", func() (err error) {
		cu, err = c.api.Customers.Update(customerID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripeCustomer(cu), nil
}

func (c *StripeClient) DeleteCustomer(ctx context.Context, customerID string) error {
	p := &stripe.CustomerParams{Params: params(ctx)}
	return c.call(ctx, "billing.DeleteCustomer", func() error {
		_, err := c.api.Customers.Del(customerID, p)
		return err
	})
}

// AttachPaymentMethod привязывает способ оплаты к клиенту.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	p := &stripe.PaymentMethodAttachParams{Params: params(ctx), Customer: stripe.String(customerID)}
	return c.call(ctx, "billing.AttachPaymentMethod", func() error {
		_, err := c.api.PaymentMethods.Attach(paymentMethodID, p)
		return err
	})
}

// SetDefaultPaymentMethod делает способ оплаты основным для счетов клиента.
func (c *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	p := &stripe.CustomerParams{
		Params: params(ctx),
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	return c.call(ctx, "billing.SetDefaultPaymentMethod", func() error {
		_, err := c.api.Customers.Update(customerID, p)
		return err
	})
}

// CreateSubscription создаёт подписку на цену. Ключ идемпотентности
// передаётся провайдеру, повтор с тем же ключом вернёт ту же подписку.
func (c *StripeClient) CreateSubscription(ctx context.Context, in CreateSubscriptionParams) (*Subscription, error) {
	p := &stripe.SubscriptionParams{
		Params:   params(ctx),
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	if in.PaymentMethodID != "" {
		p.DefaultPaymentMethod = stripe.String(in.PaymentMethodID)
	}
	if in.IdempotencyKey != "" {
		p.SetIdempotencyKey(in.IdempotencyKey)
	}
	for k, v := range in.Metadata {
		p.AddMetadata(k, v)
	}

	var s *stripe.Subscription
	err := c.call(ctx, "billing.CreateSubscription", func() (err error) {
		s, err = c.api.Subscriptions.New(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := fromStripeSubscription(s)
	return &out, nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	p := &stripe.SubscriptionParams{Params: params(ctx)}
	var s *stripe.Subscription
	err := c.call(ctx, "billing.GetSubscription", func() (err error) {
		s, err = c.api.Subscriptions.Get(subscriptionID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := fromStripeSubscription(s)
	return &out, nil
}

// CancelSubscription при immediately=false выставляет cancel_at_period_end.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*Subscription, error) {
	var s *stripe.Subscription
	var err error
	if immediately {
		p := &stripe.SubscriptionCancelParams{Params: params(ctx)}
		err = c.call(ctx, "billing.CancelSubscription", func() (err error) {
			s, err = c.api.Subscriptions.Cancel(subscriptionID, p)
			return err
		})
	} else {
		p := &stripe.SubscriptionParams{Params: params(ctx), CancelAtPeriodEnd: stripe.Bool(true)}
		err = c.call(ctx, "billing.CancelSubscription", func() (err error) {
			s, err = c.api.Subscriptions.Update(subscriptionID, p)
			return err
		})
	}
	if err != nil {
		return nil, err
	}
	out := fromStripeSubscription(s)
	return &out, nil
}

// ReactivateSubscription снимает отмену в конце периода.
func (c *StripeClient) ReactivateSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	p := &stripe.SubscriptionParams{Params: params(ctx), CancelAtPeriodEnd: stripe.Bool(false)}
	var s *stripe.Subscription
	err := c.call(ctx, "billing.ReactivateSubscription", func() (err error) {
		s, err = c.api.Subscriptions.Update(subscriptionID, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := fromStripeSubscription(s)
	return &out, nil
}

func (c *StripeClient) ListCustomerSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var out []Subscription
	err := c.call(ctx, "billing.ListCustomerSubscriptions", func() error {
		out = out[:0]
		p := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
		p.Context = ctx
		it := c.api.Subscriptions.List(p)
		for it.Next() {
			out = append(out, fromStripeSubscription(it.Subscription()))
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePortalSession возвращает URL клиентского портала.
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	p := &stripe.BillingPortalSessionParams{
		Params:    params(ctx),
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	var sess *stripe.BillingPortalSession
	err := c.call(ctx, "billing.CreatePortalSession", func() (err error) {
		sess, err = c.api.BillingPortalSessions.New(p)
		return err
	})
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}
