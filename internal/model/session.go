package model

import "encoding/json"

// Session — авторизованная сессия пользователя в KV-хранилище (ключ session:<user_id>).
// На пользователя ровно одна живая сессия: повторный логин перезаписывает прежнюю
// (last write wins, политики single-device нет).
type Session struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	IssuedAt       int64  `json:"issued_at"`        // unix ms
	ExpiresAt      int64  `json:"expires_at"`       // unix ms, прикладной срок (store держит свой TTL)
	LastActivityAt int64  `json:"last_activity_at"` // unix ms

	// Payload — непрозрачные данные, которые логин положил в сессию (имя, организация).
	Payload json.RawMessage `json:"payload,omitempty"`
}
