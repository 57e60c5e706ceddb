package middlewarectx

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
)

// ErrInvalidHost запрос на неразрешённый Host.
var ErrInvalidHost = apperr.New(apperr.KindBadRequest, "INVALID_HOST", "invalid host header")

// TrustedHosts пропускает запросы только на перечисленные хосты.
// Пустой список или "*" разрешают любой Host. Шаблон "*.example.com"
// разрешает поддомены.
func TrustedHosts(allowed []string, log *slog.Logger) func(http.Handler) http.Handler {
	allowAll := len(allowed) == 0
	hosts := make([]string, 0, len(allowed))
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "*" {
			allowAll = true
		}
		if h != "" {
			hosts = append(hosts, h)
		}
	}

	return func(next http.Handler) http.Handler {
		if allowAll {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(r.Host)
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if !hostAllowed(host, hosts) {
				response.Fail(w, r, log.With(slog.String("host", r.Host)), ErrInvalidHost)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if a == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(a, "*"); ok && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// SecurityHeaders выставляет стандартные заголовки безопасности.
// HSTS добавляется только при hsts=true.
func SecurityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDHeader возвращает идентификатор запроса в заголовке X-Request-ID.
// Ставится после middleware.RequestID.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}
