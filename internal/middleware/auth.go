package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/service"
	"github.com/stms/internal/token"
)

// Auth проверяет bearer-токен запроса: blacklist → подпись/срок → живая сессия →
// sliding-продление. Порядок важен: blacklist до подписи — дешёвый short-circuit,
// но подпись проверяется всегда, потому что store может быть недоступен.
//
// sessionTTL выбирается по роли из claims (привилегированные роли живут дольше).
func Auth(registry *service.SessionRegistry, revoked *service.TokenRevocationList, tokens *token.Manager, sessionTTL func(role string) time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteJSONError(w, http.StatusUnauthorized, "no token provided")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				WriteJSONError(w, http.StatusUnauthorized, "malformed token")
				return
			}
			raw := parts[1]

			if revoked.IsRevoked(r.Context(), raw) {
				WriteJSONError(w, http.StatusUnauthorized, "token has been invalidated")
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				WriteJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			sess, err := registry.Get(r.Context(), claims.UserID)
			if err != nil {
				// Store недоступен — не авторитетный отказ: подпись уже проверена,
				// пропускаем без сессии и без продления.
				logger.Errorf("auth: session lookup user_id=%s: %v", MaskID(claims.UserID), err)
			} else if sess == nil {
				// Подпись валидна, сессии нет: выход с другого устройства или истечение.
				// Отдельное сообщение, чтобы клиент предложил войти заново.
				WriteJSONError(w, http.StatusUnauthorized, "session expired, please login again")
				return
			} else {
				if err := registry.Touch(r.Context(), sess, sessionTTL(claims.Role)); err != nil {
					logger.Errorf("auth: session touch user_id=%s: %v", MaskID(claims.UserID), err)
				}
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = context.WithValue(ctx, UserNameKey, claims.Name)
			ctx = context.WithValue(ctx, TokenKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
