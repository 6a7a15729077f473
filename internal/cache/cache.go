// Package cache — кеш HTTP-ответов в KV-хранилище с группами инвалидации.
//
// Ключ — <group>:<fingerprint>, где fingerprint детерминированно строится из
// маршрута и query (и, для персональных ответов, user_id). Группа — это и
// префикс ключей, и единица инвалидации: запись группы не отдаётся после
// InvalidateGroup, даже если её TTL ещё не вышел.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/middleware"
	"github.com/stms/internal/storage"
)

// entry — сериализованный ответ в store.
type entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Cache struct {
	store storage.Store
}

func New(store storage.Store) *Cache {
	return &Cache{store: store}
}

// Fingerprint строит ключ кеша для запроса. PerUser добавляет user_id из контекста,
// чтобы персональные ответы не пересекались между пользователями.
func Fingerprint(r *http.Request, perUser bool) string {
	fp := r.URL.RequestURI()
	if perUser {
		if userID := middleware.GetUserID(r.Context()); userID != "" {
			fp += "|u=" + userID
		}
	}
	return fp
}

// Wrap возвращает middleware, кеширующее GET-ответы группы на ttl.
// На хите нижележащий handler не вызывается; на промахе ответ сохраняется
// только при 2xx. Недоступность store не видна клиенту: запрос просто идёт
// в handler (медленнее, но идентично по результату).
//
// Два конкурентных промаха по одному fingerprint оба выполнят handler и оба
// запишут кеш (last write wins) — допустимо, обёрнутые handlers только читают.
func (c *Cache) Wrap(group string, ttl time.Duration, perUser bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := group + ":" + Fingerprint(r, perUser)

			raw, ok, err := c.store.Get(r.Context(), key)
			if err != nil {
				logger.Errorf("cache get %s: %v", key, err)
			}
			if ok {
				var e entry
				if err := json.Unmarshal([]byte(raw), &e); err == nil {
					logger.Debugf("cache hit %s", key)
					if e.ContentType != "" {
						w.Header().Set("Content-Type", e.ContentType)
					}
					w.Header().Set("X-Cache", "HIT")
					w.Header().Set("X-Cache-Key", key)
					w.WriteHeader(e.Status)
					w.Write(e.Body)
					return
				}
				// Нечитаемая запись — как промах.
				c.store.Delete(r.Context(), key)
			}

			logger.Debugf("cache miss %s", key)
			w.Header().Set("X-Cache", "MISS")
			w.Header().Set("X-Cache-Key", key)
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			data, err := json.Marshal(entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body,
			})
			if err != nil {
				return
			}
			if err := c.store.SetWithTTL(r.Context(), key, string(data), ttl); err != nil {
				logger.Errorf("cache set %s: %v", key, err)
			}
		})
	}
}

// InvalidateGroup удаляет все записи группы. Вызывается на событиях изменения
// данных (end-class, правки курсов/лекций).
func (c *Cache) InvalidateGroup(ctx context.Context, group string) error {
	keys, err := c.store.KeysMatching(ctx, group+":*")
	if err != nil {
		return fmt.Errorf("cache.InvalidateGroup %s: %w", group, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("cache.InvalidateGroup %s: %w", group, err)
	}
	logger.Infof("cache: invalidated group %s (%d keys)", group, len(keys))
	return nil
}

// Warmup — one-shot прогрев горячих записей вскоре после старта процесса.
// Точка расширения: сейчас состав прогрева пуст.
func (c *Cache) Warmup(ctx context.Context) {
	logger.Info("cache warmup: nothing to preload")
}

// recorder перехватывает статус и тело ответа нижележащего handler,
// продолжая писать их клиенту.
type recorder struct {
	http.ResponseWriter
	status int
	wrote  bool
	body   []byte
}

func (r *recorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.status = code
	r.wrote = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}
