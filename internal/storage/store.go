package storage

import (
	"context"
	"time"
)

// Store — сетевой key-value кеш с TTL: сессии, blacklist токенов, rate limit,
// кеш HTTP-ответов. Реализации: redis.Client, memory.Client (для -dev без Redis).
//
// Любая ошибка реализации трактуется вызывающим кодом как «кеш недоступен»,
// никогда как авторитетное отсутствие значения: session/auth проверяют подпись
// токена независимо, rate limit пропускает запрос (fail-open), кеш ответов
// идёт в нижележащий handler.
type Store interface {
	// Get возвращает значение по ключу; отсутствие ключа — ("", false, nil), не ошибка.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Increment атомарно увеличивает счётчик (INCR). Read-modify-write здесь недопустим:
	// точность rate limit под конкурентными запросами держится на атомарности.
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL возвращает остаток жизни ключа; 0 — ключа нет или срок не задан.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// KeysMatching возвращает ключи по glob-шаблону. Нетранзакционный скан — только
	// для массовой инвалидации и фоновой очистки, не на горячем пути запроса.
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
