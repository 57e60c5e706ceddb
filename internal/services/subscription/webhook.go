package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

// Исходы обработки webhook-события.
const (
	outcomeApplied      = "applied"
	outcomeDuplicate    = "duplicate"
	outcomeStale        = "stale"
	outcomeUnknown      = "unknown_subscription"
	outcomeIllegal      = "illegal_transition"
	outcomeUnhandled    = "unhandled"
	outcomeNoReference  = "no_subscription_reference"
	outcomeProcessError = "error"
)

// change изменение подписки, которое несёт событие.
type change struct {
	stripeSubscriptionID string
	status               models.Status
	apply                func(sub *models.Subscription)
	analytics            models.EventType
}

func changeFor(event billing.Event) (change, bool) {
	switch ev := event.(type) {
	case billing.SubscriptionCreated:
		return change{
			stripeSubscriptionID: ev.Subscription.ID,
			status:               models.StatusActive,
			analytics:            models.EventSubscriptionCreated,
		}, true
	case billing.SubscriptionUpdated:
		remote := ev.Subscription
		return change{
			stripeSubscriptionID: remote.ID,
			status:               billing.MapStatus(remote.Status),
			apply: func(sub *models.Subscription) {
				if !remote.CurrentPeriodStart.IsZero() {
					start := remote.CurrentPeriodStart
					sub.CurrentPeriodStart = &start
				}
				if !remote.CurrentPeriodEnd.IsZero() {
					end := remote.CurrentPeriodEnd
					sub.CurrentPeriodEnd = &end
				}
				sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
			},
		}, true
	case billing.SubscriptionDeleted:
		remote := ev.Subscription
		at := ev.CreatedAt
		return change{
			stripeSubscriptionID: remote.ID,
			status:               models.StatusCancelled,
			apply: func(sub *models.Subscription) {
				if sub.CancelledAt != nil {
					return
				}
				cancelled := at
				if remote.CanceledAt != nil {
					cancelled = *remote.CanceledAt
				}
				sub.CancelledAt = &cancelled
			},
			analytics: models.EventSubscriptionCancelled,
		}, true
	case billing.InvoicePaymentSucceeded:
		return change{
			stripeSubscriptionID: ev.SubscriptionID,
			status:               models.StatusActive,
			analytics:            models.EventPaymentSucceeded,
		}, true
	case billing.InvoicePaymentFailed:
		return change{
			stripeSubscriptionID: ev.SubscriptionID,
			status:               models.StatusPastDue,
			analytics:            models.EventPaymentFailed,
		}, true
	}
	return change{}, false
}

// HandleWebhook применяет событие провайдера к локальной подписке. Повторные,
// устаревшие и недопустимые по таблице переходов события пропускаются без
// ошибки, их ID всё равно записывается. Для событий без обработчика
// возвращается ErrUnhandledEvent.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, event billing.Event) error {
	const op = "services.subscription.HandleWebhook"

	meta := event.Meta()
	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", meta.ID),
		slog.String("event_type", meta.Type),
	)

	ch, ok := changeFor(event)
	if !ok {
		log.Info("unhandled webhook event")
		s.observe(meta.Type, outcomeUnhandled)
		return ErrUnhandledEvent
	}

	processed, err := s.repo.IsEventProcessed(ctx, meta.ID)
	if err != nil {
		s.observe(meta.Type, outcomeProcessError)
		return fmt.Errorf("%s: %w", op, err)
	}
	if processed {
		log.Info("webhook event already processed")
		s.observe(meta.Type, outcomeDuplicate)
		return nil
	}

	outcome := outcomeApplied
	var (
		userID uuid.UUID
		sub    *models.Subscription
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		first, err := s.repo.MarkEventProcessed(ctx, meta.ID, meta.Type, s.now().UTC())
		if err != nil {
			return err
		}
		if !first {
			outcome = outcomeDuplicate
			return nil
		}

		if ch.stripeSubscriptionID == "" {
			outcome = outcomeNoReference
			return nil
		}

		sub, err = s.repo.GetSubscriptionByStripeID(ctx, ch.stripeSubscriptionID)
		if errors.Is(err, storage.ErrNotFound) {
			outcome = outcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}

		if sub.LastEventAt != nil && meta.CreatedAt.Before(*sub.LastEventAt) {
			outcome = outcomeStale
			return nil
		}
		if !CanTransition(sub.Status, ch.status) {
			outcome = outcomeIllegal
			return nil
		}

		sub.Status = ch.status
		if ch.apply != nil {
			ch.apply(sub)
		}
		if sub.Status == models.StatusCancelled && sub.CancelledAt == nil {
			at := meta.CreatedAt
			sub.CancelledAt = &at
		}
		at := meta.CreatedAt
		sub.LastEventAt = &at

		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		userID = sub.UserID
		return s.repo.SetUserTier(ctx, sub.UserID, sub.EffectiveTier())
	})
	if err != nil {
		log.Error("failed to apply webhook event", sl.Err(err))
		s.observe(meta.Type, outcomeProcessError)
		return fmt.Errorf("%s: %w", op, err)
	}
	s.observe(meta.Type, outcome)

	switch outcome {
	case outcomeApplied:
		s.invalidate(ctx, userID)
		log.Info("webhook event applied",
			slog.String("user_id", userID.String()),
			slog.String("status", string(sub.Status)),
		)
		if ch.analytics != "" {
			s.track(ctx, ch.analytics, userID, map[string]any{
				"event_id": meta.ID,
				"status":   string(sub.Status),
			})
		}
	case outcomeDuplicate:
		log.Info("webhook event already processed")
	case outcomeStale:
		log.Info("stale webhook event ignored", slog.Time("last_event_at", *sub.LastEventAt))
	case outcomeIllegal:
		log.Warn("illegal subscription status transition skipped",
			slog.String("from", string(sub.Status)),
			slog.String("to", string(ch.status)),
		)
	case outcomeUnknown:
		log.Warn("webhook references unknown subscription", slog.String("stripe_subscription_id", ch.stripeSubscriptionID))
	case outcomeNoReference:
		log.Info("webhook event without subscription reference")
	}
	return nil
}

func (s *SubscriptionService) observe(eventType, outcome string) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}
