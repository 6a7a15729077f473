package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	val string
	exp time.Time // zero — без срока
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}

// Client — in-memory реализация storage.Store для -dev и тестов.
// Семантика повторяет Redis: TTL, атомарный INCR, glob-шаблоны в KeysMatching.
type Client struct {
	mu    sync.Mutex
	items map[string]entry
}

func New() *Client {
	return &Client{items: make(map[string]entry)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.expired(time.Now()) {
		delete(c.items, key)
		return "", false, nil
	}
	return e.val, true, nil
}

func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.items[key] = entry{val: value, exp: exp}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

// Increment — как INCR: отсутствующий или истёкший ключ считается нулём.
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e, ok := c.items[key]
	if !ok || e.expired(now) {
		c.items[key] = entry{val: "1"}
		return 1, nil
	}
	n, _ := strconv.ParseInt(e.val, 10, 64)
	n++
	c.items[key] = entry{val: strconv.FormatInt(n, 10), exp: e.exp}
	return n, nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	e.exp = time.Now().Add(ttl)
	c.items[key] = e
	return nil
}

// TTL возвращает остаток жизни ключа; 0 — ключа нет или срок не задан.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	e, ok := c.items[key]
	if !ok || e.expired(now) || e.exp.IsZero() {
		return 0, nil
	}
	return e.exp.Sub(now), nil
}

func (c *Client) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var keys []string
	for k, e := range c.items {
		if e.expired(now) {
			continue
		}
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// matchGlob — шаблоны в стиле Redis MATCH: '*' покрывает любую подстроку
// (включая '/'), '?' — один символ. Этого достаточно для префиксных
// шаблонов вида "session:*".
func matchGlob(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return s == ""
}
