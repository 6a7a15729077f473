package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stms/internal/middleware"
	"github.com/stms/internal/model"
	"github.com/stms/internal/repository"
	"github.com/stms/internal/service"
	"github.com/stms/internal/storage/memory"
	"github.com/stms/internal/token"
)

type fakeUsers struct {
	byEmail map[string]*model.User
	byID    map[string]*model.User
	lookups atomic.Int64
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	f.lookups.Add(1)
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func newAuthHandlerTest(t *testing.T) (*AuthHandler, *fakeUsers, *service.SessionRegistry, *service.TokenRevocationList, *token.Manager) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	user := &model.User{ID: "u1", Email: "anna@example.com", Name: "Anna", Role: model.RoleStudent, PasswordHash: string(hash)}
	users := &fakeUsers{
		byEmail: map[string]*model.User{user.Email: user},
		byID:    map[string]*model.User{user.ID: user},
	}
	store := memory.New()
	sessions := service.NewSessionRegistry(store)
	revoked := service.NewTokenRevocationList(store)
	tokens := token.NewManager("test_secret", time.Hour)
	h := NewAuthHandler(users, sessions, revoked, tokens, func(role string) time.Duration { return time.Hour })
	return h, users, sessions, revoked, tokens
}

func TestLoginSuccess(t *testing.T) {
	h, _, sessions, _, tokens := newAuthHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"anna@example.com","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.User == nil || resp.User.ID != "u1" {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	if strings.Contains(w.Body.String(), "password_hash") {
		t.Fatal("password hash leaked into the response")
	}
	claims, err := tokens.Verify(resp.Token)
	if err != nil || claims.UserID != "u1" {
		t.Fatalf("issued token invalid: %v", err)
	}
	sess, err := sessions.Get(req.Context(), "u1")
	if err != nil || sess == nil {
		t.Fatalf("session missing after login: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h, _, _, _, _ := newAuthHandlerTest(t)

	cases := []string{
		`{"email":"anna@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"secret123"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Login(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("body %s: expected 401, got %d", body, w.Code)
		}
		// Не различаем «нет пользователя» и «не тот пароль».
		if !strings.Contains(w.Body.String(), "invalid credentials") {
			t.Fatalf("body %s: unexpected error: %s", body, w.Body.String())
		}
	}
}

func TestLoginValidatesBody(t *testing.T) {
	h, _, _, _, _ := newAuthHandlerTest(t)
	for _, body := range []string{`{`, `{"email":"a@b.c"}`, `{"password":"x"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Login(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestLogoutRevokesAndDestroys(t *testing.T) {
	h, _, sessions, revoked, tokens := newAuthHandlerTest(t)
	ctx := context.Background()

	tok, err := tokens.Issue("u1", "student", "Anna")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := sessions.Create(ctx, "u1", "student", nil, time.Hour); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	reqCtx := context.WithValue(req.Context(), middleware.UserIDKey, "u1")
	reqCtx = context.WithValue(reqCtx, middleware.TokenKey, tok)
	w := httptest.NewRecorder()
	h.Logout(w, req.WithContext(reqCtx))

	if w.Code != http.StatusOK {
		t.Fatalf("logout failed: %d %s", w.Code, w.Body.String())
	}
	if !revoked.IsRevoked(ctx, tok) {
		t.Fatal("token must be revoked after logout")
	}
	if sess, _ := sessions.Get(ctx, "u1"); sess != nil {
		t.Fatal("session must be destroyed after logout")
	}
}

func TestMeUsesProfileCache(t *testing.T) {
	h, users, _, _, _ := newAuthHandlerTest(t)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "u1"))
		w := httptest.NewRecorder()
		h.Me(w, req)
		return w
	}

	first := do()
	if first.Code != http.StatusOK {
		t.Fatalf("me failed: %d %s", first.Code, first.Body.String())
	}
	second := do()
	if second.Body.String() != first.Body.String() {
		t.Fatal("cached profile differs from the original")
	}
	if users.lookups.Load() != 1 {
		t.Fatalf("repository must be hit once, got %d lookups", users.lookups.Load())
	}
}

func TestMeUnknownUser(t *testing.T) {
	h, _, _, _, _ := newAuthHandlerTest(t)
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, "ghost"))
	w := httptest.NewRecorder()
	h.Me(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
