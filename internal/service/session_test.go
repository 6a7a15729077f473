package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stms/internal/storage/memory"
	redisstorage "github.com/stms/internal/storage/redis"
)

func TestSessionCreateGetDestroy(t *testing.T) {
	reg := NewSessionRegistry(memory.New())
	ctx := context.Background()

	payload := json.RawMessage(`{"name":"Anna","email":"anna@example.com"}`)
	created, err := reg.Create(ctx, "u1", "student", payload, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ExpiresAt <= created.IssuedAt {
		t.Fatal("expiresAt must be after issuedAt")
	}

	got, err := reg.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("session missing after create")
	}
	if got.UserID != "u1" || got.Role != "student" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload mismatch: %s", got.Payload)
	}

	if err := reg.Destroy(ctx, "u1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	got, err = reg.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get after destroy: %v", err)
	}
	if got != nil {
		t.Fatal("session survived destroy")
	}
}

func TestSessionGetAbsentIsNilNil(t *testing.T) {
	reg := NewSessionRegistry(memory.New())
	got, err := reg.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("absent session must not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestTouchRenewsOnlyNearExpiry(t *testing.T) {
	reg := NewSessionRegistry(memory.New())
	ctx := context.Background()

	// До истечения далеко — touch не переписывает срок.
	s, err := reg.Create(ctx, "u1", "student", nil, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := s.ExpiresAt
	if err := reg.Touch(ctx, s, time.Hour); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if s.ExpiresAt != before {
		t.Fatal("touch far from expiry must not renew")
	}

	// Меньше порога — продлевается.
	s2, err := reg.Create(ctx, "u2", "student", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before = s2.ExpiresAt
	if err := reg.Touch(ctx, s2, time.Hour); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if s2.ExpiresAt <= before {
		t.Fatal("touch near expiry must extend the session")
	}
}

func TestTouchNeverShortens(t *testing.T) {
	reg := NewSessionRegistry(memory.New())
	ctx := context.Background()

	s, err := reg.Create(ctx, "u1", "student", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := s.ExpiresAt
	// Продление с меньшим TTL не должно приближать истечение.
	if err := reg.Touch(ctx, s, time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if s.ExpiresAt < before {
		t.Fatalf("expiresAt decreased: %d -> %d", before, s.ExpiresAt)
	}
}

func TestTouchKeepsStoreEntryAlive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	cli := redisstorage.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cli.Close() })
	reg := NewSessionRegistry(cli)
	ctx := context.Background()

	s, err := reg.Create(ctx, "u1", "student", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Продление с ttl меньше остатка: прикладной срок не меняется,
	// и запись в store обязана дожить до него.
	if err := reg.Touch(ctx, s, time.Minute); err != nil {
		t.Fatalf("touch: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	got, err := reg.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("store entry expired before the session's own expiresAt")
	}

	mr.FastForward(4 * time.Minute)
	if got, _ := reg.Get(ctx, "u1"); got != nil {
		t.Fatal("store entry must still expire with the session")
	}
}

func TestSweepExpired(t *testing.T) {
	store := memory.New()
	reg := NewSessionRegistry(store)
	ctx := context.Background()

	// Живая сессия.
	if _, err := reg.Create(ctx, "alive", "student", nil, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Прикладной срок прошёл, но TTL store ещё держит запись.
	stale := `{"user_id":"stale","role":"student","issued_at":1,"expires_at":2,"last_activity_at":1}`
	store.SetWithTTL(ctx, "session:stale", stale, time.Hour)
	// Нечитаемая запись.
	store.SetWithTTL(ctx, "session:garbage", "{not json", time.Hour)

	cleared := reg.SweepExpired(ctx)
	if cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	if got, _ := reg.Get(ctx, "alive"); got == nil {
		t.Fatal("live session must survive the sweep")
	}
	if got, _ := reg.Get(ctx, "stale"); got != nil {
		t.Fatal("expired session must be swept")
	}
}

func TestUserCacheRoundtrip(t *testing.T) {
	reg := NewSessionRegistry(memory.New())
	ctx := context.Background()

	if _, ok := reg.CachedUser(ctx, "u1"); ok {
		t.Fatal("cache must start empty")
	}
	if err := reg.CacheUser(ctx, "u1", []byte(`{"id":"u1"}`)); err != nil {
		t.Fatalf("cache user: %v", err)
	}
	data, ok := reg.CachedUser(ctx, "u1")
	if !ok || string(data) != `{"id":"u1"}` {
		t.Fatalf("unexpected cached profile: ok=%v data=%s", ok, data)
	}
	if err := reg.DropCachedUser(ctx, "u1"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, ok := reg.CachedUser(ctx, "u1"); ok {
		t.Fatal("profile survived drop")
	}
}
