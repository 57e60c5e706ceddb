// Package services содержит бизнес-логику тарифов: доступ к функциям,
// оформление и отмену премиум-подписки, синхронизацию с биллингом по webhook.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

// Ошибки сервиса подписок.
var (
	ErrAlreadySubscribed = apperr.New(apperr.KindConflict, "ALREADY_SUBSCRIBED", "user already has an active premium subscription")
	ErrNoSubscription    = apperr.New(apperr.KindNotFound, "NO_SUBSCRIPTION", "no subscription found")
	ErrNotPremium        = apperr.New(apperr.KindBadRequest, "NOT_PREMIUM", "no active premium subscription to cancel")
	ErrNoCustomer        = apperr.New(apperr.KindNotFound, "NO_BILLING_CUSTOMER", "no billing account found")
	ErrBilling           = apperr.New(apperr.KindUpstream, "BILLING_ERROR", "billing provider request failed")
	ErrUnhandledEvent    = errors.New("unhandled webhook event")
)

const subscriptionCacheTTL = 5 * time.Minute

// Repository хранилище пользователей, подписок и обработанных событий.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	SetUserTier(ctx context.Context, id uuid.UUID, tier models.Tier) error
	GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)
}

// Cache кеш подписок пользователей.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Tracker получатель аналитических событий.
type Tracker interface {
	Track(ctx context.Context, event models.AnalyticsEvent)
}

// Options параметры биллинга.
type Options struct {
	PremiumPriceID string
	PublishableKey string
	Metrics        *metrics.Metrics
}

// StatusView состояние подписки пользователя.
type StatusView struct {
	Subscription *models.Subscription `json:"subscription"`
	IsPremium    bool                 `json:"is_premium"`
	Features     map[string]bool      `json:"features"`
}

// StripeConfig публичные параметры для клиента оплаты.
type StripeConfig struct {
	PublishableKey string `json:"publishable_key"`
	PremiumPriceID string `json:"premium_price_id"`
}

// SubscriptionService реализует логику тарифов.
type SubscriptionService struct {
	repo    Repository
	billing billing.Provider
	cache   Cache
	tracker Tracker
	log     *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
func NewSubscriptionService(repo Repository, provider billing.Provider, cache Cache, tracker Tracker, log *slog.Logger, opts Options) *SubscriptionService {
	return &SubscriptionService{
		repo:    repo,
		billing: provider,
		cache:   cache,
		tracker: tracker,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

func cacheKey(userID uuid.UUID) string {
	return "subscription:user:" + userID.String()
}

// GetSubscription возвращает подписку пользователя или nil, если её нет.
func (s *SubscriptionService) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	const op = "services.subscription.GetSubscription"

	key := cacheKey(userID)
	var cached models.Subscription
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("failed to read subscription from cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := s.repo.GetSubscriptionByUserID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Set(ctx, key, sub, subscriptionCacheTTL); err != nil {
		s.log.Warn("failed to cache subscription", slog.String("key", key), sl.Err(err))
	}
	return sub, nil
}

func (s *SubscriptionService) invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Delete(ctx, cacheKey(userID)); err != nil {
		s.log.Warn("failed to invalidate subscription cache", slog.String("user_id", userID.String()), sl.Err(err))
	}
}

func (s *SubscriptionService) track(ctx context.Context, typ models.EventType, userID uuid.UUID, props map[string]any) {
	s.tracker.Track(ctx, models.AnalyticsEvent{
		Type:       typ,
		UserID:     userID.String(),
		Properties: props,
		Timestamp:  s.now().UTC(),
	})
}

// Status возвращает подписку, признак премиума и доступные функции.
func (s *SubscriptionService) Status(ctx context.Context, user models.CurrentUser) (*StatusView, error) {
	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Subscription: sub,
		IsPremium:    sub.IsPremiumActive(),
		Features:     Features(sub.EffectiveTier()),
	}, nil
}

// FeaturesFor возвращает действующий тариф пользователя и его функции.
func (s *SubscriptionService) FeaturesFor(ctx context.Context, user models.CurrentUser) (models.Tier, map[string]bool, error) {
	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	tier := sub.EffectiveTier()
	return tier, Features(tier), nil
}

// HasAccess проверяет доступ к функции по действующему тарифу.
func (s *SubscriptionService) HasAccess(ctx context.Context, user models.CurrentUser, feature string) (bool, error) {
	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return false, err
	}
	tier := sub.EffectiveTier()
	allowed := HasFeature(tier, feature)

	s.track(ctx, models.EventFeatureAccessed, user.ID, map[string]any{
		"feature":    feature,
		"has_access": allowed,
		"tier":       string(tier),
	})
	return allowed, nil
}

// Upgrade оформляет премиум-подписку. Локальное состояние подписки меняется
// только после успешного создания подписки у провайдера.
func (s *SubscriptionService) Upgrade(ctx context.Context, user models.CurrentUser, paymentMethodID string) (*models.Subscription, error) {
	const op = "services.subscription.Upgrade"
	log := s.log.With(slog.String("op", op), slog.String("user_id", user.ID.String()))

	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.IsPremiumActive() {
		s.track(ctx, models.EventUpgradeAttempted, user.ID, map[string]any{"success": false, "reason": "already_subscribed"})
		return nil, ErrAlreadySubscribed
	}

	remote, customerID, err := s.createRemoteSubscription(ctx, user, sub, paymentMethodID)
	if err != nil {
		log.Error("billing upgrade failed", sl.Err(err))
		s.track(ctx, models.EventUpgradeAttempted, user.ID, map[string]any{"success": false, "reason": "billing_error"})
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, ErrBilling.WithErr(err)
	}

	updated := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               user.ID,
		Tier:                 models.TierPremium,
		Status:               models.StatusActive,
		StripeCustomerID:     &customerID,
		StripeSubscriptionID: &remote.ID,
		CancelAtPeriodEnd:    false,
		CancelledAt:          nil,
	}
	if sub != nil {
		updated.ID = sub.ID
	}
	if !remote.CurrentPeriodStart.IsZero() {
		updated.CurrentPeriodStart = &remote.CurrentPeriodStart
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		updated.CurrentPeriodEnd = &remote.CurrentPeriodEnd
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpsertSubscription(ctx, updated); err != nil {
			return err
		}
		return s.repo.SetUserTier(ctx, user.ID, models.TierPremium)
	})
	if err != nil {
		// подписка у провайдера уже создана, webhook её досинхронизирует
		log.Error("failed to store upgraded subscription", slog.String("stripe_subscription_id", remote.ID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, user.ID)
	s.replaceRemote(ctx, log, sub, remote.ID)

	log.Info("subscription upgraded", slog.String("stripe_subscription_id", remote.ID))
	s.track(ctx, models.EventSubscriptionUpgraded, user.ID, map[string]any{"stripe_subscription_id": remote.ID})
	s.track(ctx, models.EventUpgradeAttempted, user.ID, map[string]any{"success": true})
	return updated, nil
}

func (s *SubscriptionService) createRemoteSubscription(ctx context.Context, user models.CurrentUser, sub *models.Subscription, paymentMethodID string) (*billing.Subscription, string, error) {
	if s.opts.PremiumPriceID == "" {
		return nil, "", billing.ErrNotConfigured
	}

	customerID, err := s.ensureCustomer(ctx, user, sub)
	if err != nil {
		return nil, "", err
	}
	if err := s.billing.AttachPaymentMethod(ctx, paymentMethodID, customerID); err != nil {
		return nil, "", err
	}
	if err := s.billing.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return nil, "", err
	}

	remote, err := s.billing.CreateSubscription(ctx, billing.CreateSubscriptionParams{
		CustomerID:      customerID,
		PriceID:         s.opts.PremiumPriceID,
		PaymentMethodID: paymentMethodID,
		IdempotencyKey:  upgradeIdempotencyKey(user.ID, paymentMethodID, sub),
		Metadata:        map[string]string{"user_id": user.ID.String()},
	})
	if err != nil {
		return nil, "", err
	}
	return remote, customerID, nil
}

// upgradeIdempotencyKey повторяется только при повторе той же попытки:
// любое изменение локальной подписки (например, отмена) меняет updated_at,
// а вместе с ним и ключ.
func upgradeIdempotencyKey(userID uuid.UUID, paymentMethodID string, sub *models.Subscription) string {
	version := "0"
	if sub != nil && !sub.UpdatedAt.IsZero() {
		version = strconv.FormatInt(sub.UpdatedAt.UnixNano(), 10)
	}
	return "upgrade:" + userID.String() + ":" + paymentMethodID + ":" + version
}

// replaceRemote отменяет у провайдера прежнюю незавершённую подписку
// (past_due, incomplete), которую заменила новая.
func (s *SubscriptionService) replaceRemote(ctx context.Context, log *slog.Logger, prev *models.Subscription, newID string) {
	if prev == nil || prev.Status == models.StatusCancelled ||
		prev.StripeSubscriptionID == nil || *prev.StripeSubscriptionID == "" || *prev.StripeSubscriptionID == newID {
		return
	}
	oldID := *prev.StripeSubscriptionID
	if _, err := s.billing.CancelSubscription(ctx, oldID, true); err != nil {
		log.Error("failed to cancel replaced billing subscription",
			slog.String("replaced_subscription_id", oldID),
			slog.String("stripe_subscription_id", newID),
			sl.Err(err),
		)
		return
	}
	log.Info("replaced billing subscription cancelled",
		slog.String("replaced_subscription_id", oldID),
		slog.String("stripe_subscription_id", newID),
	)
}

// ensureCustomer берёт клиента из подписки, затем из пользователя, иначе
// создаёт нового и сразу сохраняет его у пользователя.
func (s *SubscriptionService) ensureCustomer(ctx context.Context, user models.CurrentUser, sub *models.Subscription) (string, error) {
	const op = "services.subscription.ensureCustomer"

	if sub != nil && sub.StripeCustomerID != nil && *sub.StripeCustomerID != "" {
		return *sub.StripeCustomerID, nil
	}

	u, err := s.repo.GetUserByID(ctx, user.ID)
	if err != nil {
		return "", apperr.ErrInternal.WithErr(fmt.Errorf("%s: %w", op, err))
	}
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}

	customer, err := s.billing.CreateCustomer(ctx, u.Email, map[string]string{"user_id": u.ID.String()})
	if err != nil {
		return "", err
	}
	if err := s.repo.SetStripeCustomerID(ctx, u.ID, customer.ID); err != nil {
		return "", apperr.ErrInternal.WithErr(fmt.Errorf("%s: %w", op, err))
	}
	return customer.ID, nil
}

// Cancel отменяет премиум: у провайдера в конце периода, локально сразу.
func (s *SubscriptionService) Cancel(ctx context.Context, user models.CurrentUser, reason string) (*models.Subscription, error) {
	const op = "services.subscription.Cancel"
	log := s.log.With(slog.String("op", op), slog.String("user_id", user.ID.String()))

	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub == nil {
		s.track(ctx, models.EventCancellationAttempted, user.ID, map[string]any{"success": false, "reason": "no_subscription"})
		return nil, ErrNoSubscription
	}
	if sub.Tier != models.TierPremium || sub.Status == models.StatusCancelled {
		s.track(ctx, models.EventCancellationAttempted, user.ID, map[string]any{"success": false, "reason": "not_premium"})
		return nil, ErrNotPremium
	}

	if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID != "" {
		if _, err := s.billing.CancelSubscription(ctx, *sub.StripeSubscriptionID, false); err != nil {
			log.Error("billing cancel failed", sl.Err(err))
			s.track(ctx, models.EventCancellationAttempted, user.ID, map[string]any{"success": false, "reason": "billing_error"})
			return nil, ErrBilling.WithErr(err)
		}
	}

	now := s.now().UTC()
	var updated models.Subscription

	// кеш мог отдать устаревшую копию, поэтому строка перечитывается в транзакции
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetSubscriptionByUserID(ctx, user.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoSubscription
		}
		if err != nil {
			return err
		}
		if current.Tier != models.TierPremium || current.Status == models.StatusCancelled {
			return ErrNotPremium
		}

		updated = *current
		updated.Status = models.StatusCancelled
		updated.CancelAtPeriodEnd = true
		if updated.CancelledAt == nil {
			updated.CancelledAt = &now
		}
		if err := s.repo.UpdateSubscription(ctx, &updated); err != nil {
			return err
		}
		return s.repo.SetUserTier(ctx, user.ID, models.TierFree)
	})
	if errors.Is(err, ErrNotPremium) || errors.Is(err, ErrNoSubscription) {
		s.invalidate(ctx, user.ID)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, user.ID)

	log.Info("subscription cancelled", slog.String("reason", reason))
	s.track(ctx, models.EventSubscriptionCancelled, user.ID, map[string]any{"reason": reason})
	s.track(ctx, models.EventCancellationAttempted, user.ID, map[string]any{"success": true})
	return &updated, nil
}

// BillingPortal возвращает ссылку на клиентский портал провайдера.
func (s *SubscriptionService) BillingPortal(ctx context.Context, user models.CurrentUser, returnURL string) (string, error) {
	const op = "services.subscription.BillingPortal"

	sub, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var customerID string
	if sub != nil && sub.StripeCustomerID != nil {
		customerID = *sub.StripeCustomerID
	}
	if customerID == "" {
		u, err := s.repo.GetUserByID(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if u.StripeCustomerID != nil {
			customerID = *u.StripeCustomerID
		}
	}
	if customerID == "" {
		return "", ErrNoCustomer
	}

	url, err := s.billing.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", ErrBilling.WithErr(err)
	}
	return url, nil
}

// StripeConfig публичные ключи для фронтенда.
func (s *SubscriptionService) StripeConfig() StripeConfig {
	return StripeConfig{
		PublishableKey: s.opts.PublishableKey,
		PremiumPriceID: s.opts.PremiumPriceID,
	}
}
