package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/service"
)

// RateLimit ограничивает запросы fixed-window счётчиком в KV-хранилище.
// Идентификатор — user_id из контекста, иначе IP. 429 с Retry-After при
// превышении; недоступность store пропускает запрос (fail-open): лимитер —
// защитный механизм, не гарантия корректности.
func RateLimit(limiter *service.RateLimiter, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := GetUserID(r.Context())
			if identifier == "" {
				identifier = clientIP(r)
			}
			res, err := limiter.CheckAndIncrement(r.Context(), identifier, limit, window)
			if err != nil {
				logger.Errorf("rate limit %s: %v", MaskID(identifier), err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
			if res.Exceeded {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(res.ResetAt).Seconds())+1))
				WriteJSONError(w, http.StatusTooManyRequests, "too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		return x
	}
	return r.RemoteAddr
}
