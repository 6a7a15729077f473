package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/model"
	"github.com/stms/internal/storage"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "user:"

	// renewThreshold — сессия продлевается, только когда до прикладного истечения
	// осталось меньше этого порога (sliding expiration, не на каждый запрос).
	renewThreshold = 10 * time.Minute

	userCacheTTL = 30 * time.Minute
)

// SessionRegistry владеет жизненным циклом сессий в KV-хранилище.
// Ключ — user_id; store дублирует прикладной ExpiresAt собственным TTL.
type SessionRegistry struct {
	store storage.Store
}

func NewSessionRegistry(store storage.Store) *SessionRegistry {
	return &SessionRegistry{store: store}
}

// Create создаёт (и перезаписывает прежнюю) сессию пользователя.
func (r *SessionRegistry) Create(ctx context.Context, userID, role string, payload json.RawMessage, ttl time.Duration) (*model.Session, error) {
	now := time.Now()
	s := &model.Session{
		UserID:         userID,
		Role:           role,
		IssuedAt:       now.UnixMilli(),
		ExpiresAt:      now.Add(ttl).UnixMilli(),
		LastActivityAt: now.UnixMilli(),
		Payload:        payload,
	}
	if err := r.write(ctx, s, ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// Get возвращает сессию или (nil, nil), если её нет. Ошибка означает только
// недоступность store — не отсутствие сессии.
func (r *SessionRegistry) Get(ctx context.Context, userID string) (*model.Session, error) {
	raw, ok, err := r.store.Get(ctx, sessionKeyPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("sessionRegistry.Get: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("sessionRegistry.Get unmarshal: %w", err)
	}
	return &s, nil
}

// Touch продлевает сессию, когда до истечения осталось меньше renewThreshold.
// Продление никогда не укорачивает уже более длинный срок.
func (r *SessionRegistry) Touch(ctx context.Context, s *model.Session, ttl time.Duration) error {
	now := time.Now()
	s.LastActivityAt = now.UnixMilli()
	remaining := time.UnixMilli(s.ExpiresAt).Sub(now)
	if remaining >= renewThreshold {
		return nil
	}
	if newExp := now.Add(ttl).UnixMilli(); newExp > s.ExpiresAt {
		s.ExpiresAt = newExp
	}
	// TTL store не короче прикладного срока: продление с меньшим ttl не должно
	// выбить запись из store раньше её собственного ExpiresAt.
	storeTTL := time.UnixMilli(s.ExpiresAt).Sub(now)
	return r.write(ctx, s, storeTTL)
}

// Destroy удаляет сессию (logout).
func (r *SessionRegistry) Destroy(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, sessionKeyPrefix+userID); err != nil {
		return fmt.Errorf("sessionRegistry.Destroy: %w", err)
	}
	return nil
}

func (r *SessionRegistry) write(ctx context.Context, s *model.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sessionRegistry marshal: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, sessionKeyPrefix+s.UserID, string(data), ttl); err != nil {
		return fmt.Errorf("sessionRegistry write: %w", err)
	}
	return nil
}

// CacheUser кладёт профиль пользователя в user:<id> (горячие данные для /me).
func (r *SessionRegistry) CacheUser(ctx context.Context, userID string, data []byte) error {
	return r.store.SetWithTTL(ctx, userKeyPrefix+userID, string(data), userCacheTTL)
}

// CachedUser возвращает закешированный профиль или (nil, false).
func (r *SessionRegistry) CachedUser(ctx context.Context, userID string) ([]byte, bool) {
	raw, ok, err := r.store.Get(ctx, userKeyPrefix+userID)
	if err != nil || !ok {
		return nil, false
	}
	return []byte(raw), true
}

// DropCachedUser удаляет профиль из кеша (при изменении данных пользователя).
func (r *SessionRegistry) DropCachedUser(ctx context.Context, userID string) error {
	return r.store.Delete(ctx, userKeyPrefix+userID)
}

// SweepExpired удаляет сессии, чей прикладной ExpiresAt прошёл, даже если TTL
// store ещё не сработал (защита от расхождения часов store и приложения).
// Запускается фоновым тикером раз в час.
func (r *SessionRegistry) SweepExpired(ctx context.Context) int {
	keys, err := r.store.KeysMatching(ctx, sessionKeyPrefix+"*")
	if err != nil {
		logger.Errorf("session sweep: keys: %v", err)
		return 0
	}
	now := time.Now().UnixMilli()
	cleared := 0
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var s model.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			// Нечитаемая сессия бесполезна — убираем.
			if delErr := r.store.Delete(ctx, key); delErr == nil {
				cleared++
			}
			continue
		}
		if s.ExpiresAt > 0 && s.ExpiresAt < now {
			if err := r.store.Delete(ctx, key); err == nil {
				cleared++
			}
		}
	}
	if cleared > 0 {
		logger.Infof("session sweep: cleared %d expired sessions", cleared)
	}
	return cleared
}
