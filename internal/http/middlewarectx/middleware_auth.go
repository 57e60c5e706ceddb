// Package middlewarectx содержит HTTP middleware сервиса: проверку JWT,
// ограничение частоты запросов, проверку Host, заголовки безопасности и
// метрики. Аутентифицированный пользователь кладётся в контекст запроса.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/quote-of-the-day/internal/apperr"
	"github.com/magabrotheeeer/quote-of-the-day/internal/http/response"
	"github.com/magabrotheeeer/quote-of-the-day/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// User ключ models.CurrentUser в контексте.
	User Key = "current_user"
	// Token ключ исходного access-токена в контексте.
	Token Key = "access_token"
)

// Authenticator проверяет access-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.CurrentUser, error)
}

// JWTMiddleware проверяет Bearer-токен в заголовке Authorization и кладёт
// пользователя в контекст. Без токена или с невалидным токеном отвечает 401.
func JWTMiddleware(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				response.Fail(w, r, log, apperr.ErrUnauthorized)
				return
			}

			user, err := auth.Authenticate(r.Context(), tokenStr)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				response.Fail(w, r, log, err)
				return
			}

			ctx := WithUser(r.Context(), user)
			ctx = context.WithValue(ctx, Token, tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser возвращает контекст с пользователем.
func WithUser(ctx context.Context, user models.CurrentUser) context.Context {
	return context.WithValue(ctx, User, user)
}

// CurrentUser пользователь запроса, положенный JWTMiddleware.
func CurrentUser(ctx context.Context) (models.CurrentUser, bool) {
	u, ok := ctx.Value(User).(models.CurrentUser)
	return u, ok
}

// AccessToken исходный токен запроса.
func AccessToken(ctx context.Context) string {
	t, _ := ctx.Value(Token).(string)
	return t
}
