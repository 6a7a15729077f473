package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/stms/internal/storage"
)

// StoreStats — снимок состояния KV-хранилища для наблюдаемости.
type StoreStats struct {
	Connected        bool   `json:"connected"`
	UptimeSeconds    int64  `json:"uptime_seconds,omitempty"`
	MemoryUsed       string `json:"memory_used,omitempty"`
	ConnectedClients int64  `json:"connected_clients,omitempty"`
	HitRatioPercent  string `json:"hit_ratio_percent,omitempty"`
	SessionKeys      int    `json:"session_keys"`
	BlacklistKeys    int    `json:"blacklist_keys"`
	RateLimitKeys    int    `json:"rate_limit_keys"`
}

// infoProvider — отдаёт сырой вывод INFO (реализует redis-клиент; memory-store — нет).
type infoProvider interface {
	Info(ctx context.Context, section ...string) (string, error)
}

// MetricsReporter — read-only агрегация над store: счётчики ключей по префиксам
// и, когда бекенд это умеет, серверные показатели из INFO.
type MetricsReporter struct {
	store storage.Store
}

func NewMetricsReporter(store storage.Store) *MetricsReporter {
	return &MetricsReporter{store: store}
}

// Report собирает статистику. Ошибки опроса не фатальны: возвращается то, что
// удалось собрать, с Connected=false при полном отказе.
func (m *MetricsReporter) Report(ctx context.Context) StoreStats {
	stats := StoreStats{Connected: true}

	stats.SessionKeys = m.countKeys(ctx, sessionKeyPrefix+"*", &stats.Connected)
	stats.BlacklistKeys = m.countKeys(ctx, blacklistKeyPrefix+"*", &stats.Connected)
	stats.RateLimitKeys = m.countKeys(ctx, rateLimitKeyPrefix+"*", &stats.Connected)

	ip, ok := m.store.(infoProvider)
	if !ok {
		return stats
	}
	if info, err := ip.Info(ctx, "server", "clients", "memory", "stats"); err == nil {
		stats.UptimeSeconds = parseInfoInt(info, "uptime_in_seconds")
		stats.MemoryUsed = parseInfoField(info, "used_memory_human")
		stats.ConnectedClients = parseInfoInt(info, "connected_clients")
		hits := parseInfoInt(info, "keyspace_hits")
		misses := parseInfoInt(info, "keyspace_misses")
		if total := hits + misses; total > 0 {
			stats.HitRatioPercent = strconv.FormatFloat(float64(hits)/float64(total)*100, 'f', 2, 64)
		}
	} else {
		stats.Connected = false
	}
	return stats
}

func (m *MetricsReporter) countKeys(ctx context.Context, pattern string, connected *bool) int {
	keys, err := m.store.KeysMatching(ctx, pattern)
	if err != nil {
		*connected = false
		return 0
	}
	return len(keys)
}

func parseInfoField(info, key string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, key+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, key+":"))
		}
	}
	return ""
}

func parseInfoInt(info, key string) int64 {
	v := parseInfoField(info, key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
