package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_EffectiveTier(t *testing.T) {
	tests := []struct {
		name string
		sub  *Subscription
		want Tier
	}{
		{name: "no subscription", sub: nil, want: TierFree},
		{name: "premium active", sub: &Subscription{Tier: TierPremium, Status: StatusActive}, want: TierPremium},
		{name: "premium past due", sub: &Subscription{Tier: TierPremium, Status: StatusPastDue}, want: TierFree},
		{name: "premium cancelled", sub: &Subscription{Tier: TierPremium, Status: StatusCancelled}, want: TierFree},
		{name: "premium incomplete", sub: &Subscription{Tier: TierPremium, Status: StatusIncomplete}, want: TierFree},
		{name: "free active", sub: &Subscription{Tier: TierFree, Status: StatusActive}, want: TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.EffectiveTier())
			assert.Equal(t, tt.want == TierPremium, tt.sub.IsPremiumActive())
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("PREMIUM")
	assert.True(t, ok)
	assert.Equal(t, TierPremium, tier)

	_, ok = ParseTier("gold")
	assert.False(t, ok)
}

func TestNotificationSettings_Scan(t *testing.T) {
	var n NotificationSettings
	assert.NoError(t, n.Scan([]byte(`{"enabled":false,"delivery_time":"07:30","weekdays_only":true,"pause_until":null}`)))
	assert.False(t, n.Enabled)
	assert.Equal(t, "07:30", n.DeliveryTime)
	assert.True(t, n.WeekdaysOnly)

	assert.NoError(t, n.Scan(nil))
	assert.Equal(t, DefaultNotificationSettings(), n)

	assert.Error(t, n.Scan(42))
}

func TestValidDeliveryTime(t *testing.T) {
	for in, want := range map[string]bool{
		"09:00": true,
		"23:59": true,
		"24:00": false,
		"9:00":  false,
		"09:60": false,
		"":      false,
	} {
		assert.Equal(t, want, ValidDeliveryTime(in), in)
	}
}
