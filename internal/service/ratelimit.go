package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stms/internal/model"
	"github.com/stms/internal/storage"
)

const rateLimitKeyPrefix = "rate_limit:"

// RateLimiter — fixed-window счётчик запросов на идентификатор (IP или user_id).
// Окно фиксированное: TTL ставится один раз на первом инкременте; всплеск на
// границе окон — известная и принятая неточность алгоритма.
type RateLimiter struct {
	store storage.Store
}

func NewRateLimiter(store storage.Store) *RateLimiter {
	return &RateLimiter{store: store}
}

// CheckAndIncrement инкрементирует счётчик окна и возвращает его состояние.
// Exceeded=true уже для запроса, перевалившего limit. Ошибка store отдаётся
// вызывающему: middleware трактует её как «пропустить» (fail-open).
func (l *RateLimiter) CheckAndIncrement(ctx context.Context, identifier string, limit int64, window time.Duration) (model.RateLimitResult, error) {
	key := rateLimitKeyPrefix + identifier
	count, err := l.store.Increment(ctx, key)
	if err != nil {
		return model.RateLimitResult{}, fmt.Errorf("rateLimiter.CheckAndIncrement: %w", err)
	}
	resetAt := time.Now().Add(window)
	if count == 1 {
		// Только на первом запросе окна. Expire на каждом инкременте превратил бы
		// окно в скользящее.
		if err := l.store.Expire(ctx, key, window); err != nil {
			return model.RateLimitResult{}, fmt.Errorf("rateLimiter.CheckAndIncrement expire: %w", err)
		}
	} else if left, err := l.store.TTL(ctx, key); err == nil && left > 0 {
		// Конец окна — по фактическому TTL ключа, а не «сейчас + window».
		resetAt = time.Now().Add(left)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return model.RateLimitResult{
		Count:     count,
		Remaining: remaining,
		Exceeded:  count > limit,
		ResetAt:   resetAt,
	}, nil
}
