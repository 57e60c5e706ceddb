package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/quote-of-the-day/internal/billing"
	"github.com/magabrotheeeer/quote-of-the-day/internal/cache"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
	"github.com/magabrotheeeer/quote-of-the-day/internal/storage"
)

// memRepo хранилище в памяти для сценарных тестов.
type memRepo struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*models.User
	subs   map[uuid.UUID]*models.Subscription
	events map[string]bool
	clock  time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:  make(map[uuid.UUID]*models.User),
		subs:   make(map[uuid.UUID]*models.Subscription),
		events: make(map[string]bool),
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// touch заменяет NOW() базы: каждая запись получает новое updated_at.
func (r *memRepo) touch(sub *models.Subscription) {
	r.clock = r.clock.Add(time.Second)
	sub.UpdatedAt = r.clock
}

func (r *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memRepo) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memRepo) SetStripeCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].StripeCustomerID = &customerID
	return nil
}

func (r *memRepo) SetUserTier(_ context.Context, id uuid.UUID, tier models.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id].SubscriptionTier = tier
	return nil
}

func (r *memRepo) GetSubscriptionByUserID(_ context.Context, userID uuid.UUID) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *memRepo) GetSubscriptionByStripeID(_ context.Context, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == id {
			c := *s
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(sub)
	c := *sub
	r.subs[sub.UserID] = &c
	return nil
}

func (r *memRepo) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(sub)
	c := *sub
	r.subs[sub.UserID] = &c
	return nil
}

func (r *memRepo) IsEventProcessed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id], nil
}

func (r *memRepo) MarkEventProcessed(_ context.Context, id, _ string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events[id] {
		return false, nil
	}
	r.events[id] = true
	return true, nil
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	provider := &ProviderMock{}
	tracker := &recordingTracker{}
	svc := NewSubscriptionService(repo, provider, cache.NewMemory(time.Minute), tracker, newNoopLogger(), Options{
		PremiumPriceID: "price_premium",
	})

	user := models.CurrentUser{ID: uuid.New(), Email: "reader@example.com", Tier: models.TierFree}
	repo.users[user.ID] = &models.User{ID: user.ID, Email: user.Email, SubscriptionTier: models.TierFree}
	repo.subs[user.ID] = freeSubscription(user.ID)

	provider.On("CreateCustomer", mock.Anything, user.Email, mock.Anything).Return(&billing.Customer{ID: "cus_9"}, nil).Once()
	provider.On("AttachPaymentMethod", mock.Anything, "pm_card", "cus_9").Return(nil).Once()
	provider.On("SetDefaultPaymentMethod", mock.Anything, "cus_9", "pm_card").Return(nil).Once()
	provider.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(&billing.Subscription{ID: "sub_9", CustomerID: "cus_9", Status: "active"}, nil).Once()
	provider.On("CancelSubscription", mock.Anything, "sub_9", false).
		Return(&billing.Subscription{ID: "sub_9", Status: "active", CancelAtPeriodEnd: true}, nil).Once()

	ok, err := svc.HasAccess(ctx, user, FeatureQuoteSearch)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Upgrade(ctx, user, "pm_card")
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, repo.users[user.ID].SubscriptionTier)

	ok, err = svc.HasAccess(ctx, user, FeatureQuoteSearch)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Upgrade(ctx, user, "pm_card")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	_, err = svc.Cancel(ctx, user, "")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, repo.users[user.ID].SubscriptionTier)

	ok, err = svc.HasAccess(ctx, user, FeatureQuoteSearch)
	require.NoError(t, err)
	assert.False(t, ok)

	// поздний webhook не возвращает отменённую подписку
	err = svc.HandleWebhook(ctx, billing.InvoicePaymentSucceeded{
		EventMeta:      billing.EventMeta{ID: "evt_late", Type: billing.EventInvoicePaymentSucceeded, CreatedAt: time.Now()},
		SubscriptionID: "sub_9",
	})
	require.NoError(t, err)
	ok, err = svc.HasAccess(ctx, user, FeatureQuoteSearch)
	require.NoError(t, err)
	assert.False(t, ok)

	// повтор того же события ничего не меняет
	require.NoError(t, svc.HandleWebhook(ctx, billing.InvoicePaymentSucceeded{
		EventMeta:      billing.EventMeta{ID: "evt_late", Type: billing.EventInvoicePaymentSucceeded, CreatedAt: time.Now()},
		SubscriptionID: "sub_9",
	}))

	provider.AssertExpectations(t)
	assert.Contains(t, tracker.types(), models.EventSubscriptionUpgraded)
	assert.Contains(t, tracker.types(), models.EventSubscriptionCancelled)
}

func TestSubscriptionLifecycle_ReupgradeUsesFreshIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	provider := &ProviderMock{}
	svc := NewSubscriptionService(repo, provider, cache.NewMemory(time.Minute), &recordingTracker{}, newNoopLogger(), Options{
		PremiumPriceID: "price_premium",
	})

	user := models.CurrentUser{ID: uuid.New(), Email: "reader@example.com", Tier: models.TierFree}
	repo.users[user.ID] = &models.User{ID: user.ID, Email: user.Email, StripeCustomerID: strPtr("cus_1")}
	repo.subs[user.ID] = freeSubscription(user.ID)

	var keys []string
	provider.On("AttachPaymentMethod", mock.Anything, "pm_1", "cus_1").Return(nil).Twice()
	provider.On("SetDefaultPaymentMethod", mock.Anything, "cus_1", "pm_1").Return(nil).Twice()
	provider.On("CreateSubscription", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(billing.CreateSubscriptionParams).IdempotencyKey)
		}).
		Return(&billing.Subscription{ID: "sub_1", Status: "active"}, nil).Once()
	provider.On("CreateSubscription", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			keys = append(keys, args.Get(1).(billing.CreateSubscriptionParams).IdempotencyKey)
		}).
		Return(&billing.Subscription{ID: "sub_2", Status: "active"}, nil).Once()
	provider.On("CancelSubscription", mock.Anything, "sub_1", false).
		Return(&billing.Subscription{ID: "sub_1", CancelAtPeriodEnd: true}, nil).Once()

	_, err := svc.Upgrade(ctx, user, "pm_1")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, user, "")
	require.NoError(t, err)
	sub, err := svc.Upgrade(ctx, user, "pm_1")
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, "sub_2", *sub.StripeSubscriptionID)
	assert.True(t, sub.IsPremiumActive())
	provider.AssertExpectations(t)
}

func TestSubscriptionLifecycle_CancelAfterCachedReadKeepsLastEventAt(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	provider := &ProviderMock{}
	svc := NewSubscriptionService(repo, provider, cache.NewMemory(time.Minute), &recordingTracker{}, newNoopLogger(), Options{})

	user := models.CurrentUser{ID: uuid.New(), Email: "reader@example.com", Tier: models.TierPremium}
	lastEvent := time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)
	stored := premiumSubscription(user.ID, models.StatusActive)
	stored.LastEventAt = &lastEvent
	repo.users[user.ID] = &models.User{ID: user.ID, Email: user.Email, SubscriptionTier: models.TierPremium}
	repo.subs[user.ID] = stored

	provider.On("CancelSubscription", mock.Anything, "sub_1", false).
		Return(&billing.Subscription{ID: "sub_1", CancelAtPeriodEnd: true}, nil).Once()

	// прогрев кеша: копия в кеше не содержит last_event_at
	status, err := svc.Status(ctx, user)
	require.NoError(t, err)
	require.True(t, status.IsPremium)

	_, err = svc.Cancel(ctx, user, "")
	require.NoError(t, err)

	got := repo.subs[user.ID]
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.LastEventAt)
	assert.True(t, got.LastEventAt.Equal(lastEvent))
}
