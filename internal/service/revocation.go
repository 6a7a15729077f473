package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stms/internal/storage"
)

const blacklistKeyPrefix = "blacklist:"

// TokenRevocationList держит отозванные при logout токены до их собственного
// естественного истечения: после exp токен отвергнет проверка подписи, и запись
// становится лишней — TTL ключа равен остатку жизни токена.
type TokenRevocationList struct {
	store storage.Store
}

func NewTokenRevocationList(store storage.Store) *TokenRevocationList {
	return &TokenRevocationList{store: store}
}

func (l *TokenRevocationList) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := l.store.SetWithTTL(ctx, blacklistKeyPrefix+token, "true", ttl); err != nil {
		return fmt.Errorf("revocationList.Revoke: %w", err)
	}
	return nil
}

// IsRevoked проверяется до подписи токена — дешёвый short-circuit. При недоступном
// store возвращает false: подпись и exp всё равно проверяются дальше, отказ store
// не должен пускать или блокировать запросы сам по себе.
func (l *TokenRevocationList) IsRevoked(ctx context.Context, token string) bool {
	val, ok, err := l.store.Get(ctx, blacklistKeyPrefix+token)
	if err != nil {
		return false
	}
	return ok && val == "true"
}
