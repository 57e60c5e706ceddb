package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

func TestIntegration_UserAndSubscriptionLifecycle(t *testing.T) {
	s, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	u := newTestUser("lifecycle@example.com")
	token := "verify-token"
	expires := time.Now().Add(24 * time.Hour)
	u.EmailVerificationToken = &token
	u.EmailVerificationExpires = &expires
	require.NoError(t, s.CreateUser(ctx, u))

	assert.ErrorIs(t, s.CreateUser(ctx, newTestUser("lifecycle@example.com")), ErrAlreadyExists)

	sub := newTestSubscription(u.ID)
	require.NoError(t, s.CreateSubscription(ctx, sub))
	assert.ErrorIs(t, s.CreateSubscription(ctx, newTestSubscription(u.ID)), ErrAlreadyExists)

	verified, err := s.ConsumeVerificationToken(ctx, token, time.Now())
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Nil(t, verified.EmailVerificationToken)

	_, err = s.ConsumeVerificationToken(ctx, token, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	stripeSubID := "sub_integration"
	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	err = s.WithTx(ctx, func(ctx context.Context) error {
		upgraded := &models.Subscription{
			ID:                   sub.ID,
			UserID:               u.ID,
			Tier:                 models.TierPremium,
			Status:               models.StatusActive,
			StripeSubscriptionID: &stripeSubID,
			CurrentPeriodStart:   &start,
			CurrentPeriodEnd:     &end,
		}
		if err := s.UpsertSubscription(ctx, upgraded); err != nil {
			return err
		}
		return s.SetUserTier(ctx, u.ID, models.TierPremium)
	})
	require.NoError(t, err)

	got, err := s.GetSubscriptionByStripeID(ctx, stripeSubID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.True(t, got.IsPremiumActive())

	user, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, user.SubscriptionTier)

	stats, err := s.SubscriptionStats(ctx, start.Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.PremiumActive)

	first, err := s.MarkEventProcessed(ctx, "evt_1", "customer.subscription.updated", time.Now())
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.MarkEventProcessed(ctx, "evt_1", "customer.subscription.updated", time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}
