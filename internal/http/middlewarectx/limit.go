package middlewarectx

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
	"github.com/magabrotheeeer/quote-of-the-day/internal/metrics"
	"github.com/magabrotheeeer/quote-of-the-day/internal/ratelimit"
)

// Limiter решает, пропустить ли запрос клиента по правилу.
type Limiter interface {
	Allow(ctx context.Context, rule ratelimit.Rule, clientID string) (ratelimit.Result, error)
}

// RateLimitMiddleware ограничивает частоту запросов клиента по правилу rule.
// Ошибка кеша не блокирует запрос. m может быть nil.
func RateLimitMiddleware(limiter Limiter, rule ratelimit.Rule, m *metrics.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.RateLimitMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("rule", rule.Name),
			)

			ip := ClientIP(r)
			res, err := limiter.Allow(r.Context(), rule, ip)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", sl.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				if m != nil {
					m.RateLimited.WithLabelValues(rule.Name).Inc()
				}
				log.Warn("too many requests", slog.String("client_ip", ip))
				response.Fail(w, r, log, apperr.ErrRateLimited.WithDetails(map[string]any{
					"limit":       res.Limit,
					"retry_after": retry,
				}))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP адрес клиента: первый X-Forwarded-For, затем X-Real-IP, затем RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
