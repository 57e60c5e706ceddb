package services

import (
	"sort"

	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Функции продукта.
const (
	FeatureDailyQuotes            = "daily_quotes"
	FeatureBasicNotifications     = "basic_notifications"
	FeatureQuoteStarring          = "quote_starring"
	FeatureUnlimitedStarredQuotes = "unlimited_starred_quotes"
	FeatureQuoteSearch            = "quote_search"
	FeatureAdvancedNotifications  = "advanced_notifications"
	FeatureQuoteHistory           = "quote_history"
	FeaturePrioritySupport        = "priority_support"
	FeatureExportQuotes           = "export_quotes"
	FeatureCustomQuoteCategories  = "custom_quote_categories"
)

var featureTable = map[models.Tier]map[string]bool{
	models.TierFree: {
		FeatureDailyQuotes:            true,
		FeatureBasicNotifications:     true,
		FeatureQuoteStarring:          true,
		FeatureUnlimitedStarredQuotes: false,
		FeatureQuoteSearch:            false,
		FeatureAdvancedNotifications:  false,
		FeatureQuoteHistory:           false,
		FeaturePrioritySupport:        false,
		FeatureExportQuotes:           false,
		FeatureCustomQuoteCategories:  false,
	},
	models.TierPremium: {
		FeatureDailyQuotes:            true,
		FeatureBasicNotifications:     true,
		FeatureQuoteStarring:          true,
		FeatureUnlimitedStarredQuotes: true,
		FeatureQuoteSearch:            true,
		FeatureAdvancedNotifications:  true,
		FeatureQuoteHistory:           true,
		FeaturePrioritySupport:        true,
		FeatureExportQuotes:           true,
		FeatureCustomQuoteCategories:  true,
	},
}

// Features возвращает копию набора функций тарифа. Неизвестный тариф
// получает набор free.
func Features(tier models.Tier) map[string]bool {
	src, ok := featureTable[tier]
	if !ok {
		src = featureTable[models.TierFree]
	}
	out := make(map[string]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// HasFeature false для неизвестных функций.
func HasFeature(tier models.Tier, feature string) bool {
	return Features(tier)[feature]
}

// FeatureNames все известные функции в алфавитном порядке.
func FeatureNames() []string {
	names := make([]string, 0, len(featureTable[models.TierPremium]))
	for k := range featureTable[models.TierPremium] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
