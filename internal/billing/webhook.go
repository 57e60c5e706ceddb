package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureTolerance максимальный возраст подписи webhook.
const SignatureTolerance = 5 * time.Minute

// WebhookParser проверяет подпись Stripe-Signature и разбирает событие.
type WebhookParser struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookParser создаёт парсер с секретом webhook-эндпоинта.
func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret, tolerance: SignatureTolerance}
}

// Parse проверяет подпись и возвращает типизированное событие. Ошибка подписи
// даёт ErrInvalidSignature, некорректное тело ErrMalformedEvent.
func (p *WebhookParser) Parse(payload []byte, signature string) (Event, error) {
	const op = "billing.WebhookParser.Parse"

	if p.secret == "" || signature == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedEvent, err)
	}

	event, err := convertEvent(evt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return event, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func convertEvent(evt stripe.Event) (Event, error) {
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}
	meta := EventMeta{
		ID:        evt.ID,
		Type:      string(evt.Type),
		CreatedAt: time.Unix(evt.Created, 0).UTC(),
	}

	switch meta.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		sub, err := decodeSubscription(evt)
		if err != nil {
			return nil, err
		}
		switch meta.Type {
		case EventSubscriptionCreated:
			return SubscriptionCreated{EventMeta: meta, Subscription: sub}, nil
		case EventSubscriptionUpdated:
			return SubscriptionUpdated{EventMeta: meta, Subscription: sub}, nil
		default:
			return SubscriptionDeleted{EventMeta: meta, Subscription: sub}, nil
		}

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		inv, err := decodeInvoice(evt)
		if err != nil {
			return nil, err
		}
		subID, customerID := invoiceLinks(inv)
		if meta.Type == EventInvoicePaymentSucceeded {
			return InvoicePaymentSucceeded{
				EventMeta:      meta,
				SubscriptionID: subID,
				CustomerID:     customerID,
				AmountPaid:     inv.AmountPaid,
			}, nil
		}
		return InvoicePaymentFailed{
			EventMeta:      meta,
			SubscriptionID: subID,
			CustomerID:     customerID,
			AttemptCount:   inv.AttemptCount,
		}, nil
	}

	return Unhandled{EventMeta: meta}, nil
}

func rawObject(evt stripe.Event) ([]byte, error) {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing data object", ErrMalformedEvent)
	}
	return evt.Data.Raw, nil
}

func decodeSubscription(evt stripe.Event) (Subscription, error) {
	raw, err := rawObject(evt)
	if err != nil {
		return Subscription{}, err
	}
	var s stripe.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if s.ID == "" {
		return Subscription{}, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}
	return fromStripeSubscription(&s), nil
}

func decodeInvoice(evt stripe.Event) (*stripe.Invoice, error) {
	raw, err := rawObject(evt)
	if err != nil {
		return nil, err
	}
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &inv, nil
}

func invoiceLinks(inv *stripe.Invoice) (subscriptionID, customerID string) {
	if inv.Subscription != nil {
		subscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	return subscriptionID, customerID
}

func fromStripeSubscription(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(s.CurrentPeriodStart, 0).UTC()
	}
	if s.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.CanceledAt > 0 {
		t := time.Unix(s.CanceledAt, 0).UTC()
		out.CanceledAt = &t
	}
	return out
}
