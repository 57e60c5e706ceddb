// Package ratelimit реализует ограничение частоты запросов скользящим окном,
// хранящимся в кеше.
//
// Чтение, фильтрация и запись окна выполняются отдельными операциями кеша, без
// блокировки. Параллельные запросы одного клиента могут недосчитаться, поэтому
// лимит приблизительный.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/quote-of-the-day/internal/cache"
)

// Rule лимит для группы маршрутов.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Правила по маршрутам.
var (
	RuleRegister        = Rule{Name: "register", Limit: 5, Window: time.Minute}
	RuleLogin           = Rule{Name: "login", Limit: 5, Window: time.Minute}
	RuleForgotPassword  = Rule{Name: "forgot_password", Limit: 3, Window: time.Minute}
	RuleResetPassword   = Rule{Name: "reset_password", Limit: 3, Window: time.Minute}
	RuleAuth            = Rule{Name: "auth", Limit: 30, Window: time.Minute}
	RuleSubscriptionGet = Rule{Name: "subscription_get", Limit: 30, Window: time.Minute}
	RuleUpgrade         = Rule{Name: "upgrade", Limit: 5, Window: time.Minute}
	RuleCancel          = Rule{Name: "cancel", Limit: 3, Window: time.Minute}
	RuleFeatures        = Rule{Name: "features", Limit: 60, Window: time.Minute}
	RuleCheck           = Rule{Name: "check", Limit: 100, Window: time.Minute}
)

// Result решение по одному запросу.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter считает запросы в скользящем окне.
type Limiter struct {
	store cache.Store
	now   func() time.Time
}

// New создаёт ограничитель поверх кеша.
func New(store cache.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Key ключ окна клиента для правила.
func Key(rule Rule, clientID string) string {
	return "rate_limit:" + rule.Name + ":" + clientID
}

// Allow проверяет запрос клиента по правилу и при разрешении записывает его
// в окно. Ошибка кеша возвращается вместе с разрешающим результатом.
func (l *Limiter) Allow(ctx context.Context, rule Rule, clientID string) (Result, error) {
	const op = "ratelimit.Allow"

	now := l.now()
	res := Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, Reset: now.Add(rule.Window)}
	key := Key(rule, clientID)

	var stamps []int64
	if _, err := l.store.Get(ctx, key, &stamps); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	cutoff := now.Add(-rule.Window).UnixNano()
	window := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			window = append(window, ts)
		}
	}

	if len(window) >= rule.Limit {
		oldest := time.Unix(0, window[0])
		res.Allowed = false
		res.Remaining = 0
		res.Reset = oldest.Add(rule.Window)
		res.RetryAfter = res.Reset.Sub(now)
		return res, nil
	}

	window = append(window, now.UnixNano())
	if err := l.store.Set(ctx, key, window, rule.Window); err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	res.Remaining = rule.Limit - len(window)
	res.Reset = time.Unix(0, window[0]).Add(rule.Window)
	return res, nil
}
