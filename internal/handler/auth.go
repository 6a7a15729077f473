package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/middleware"
	"github.com/stms/internal/model"
	"github.com/stms/internal/repository"
	"github.com/stms/internal/service"
	"github.com/stms/internal/token"
)

// UserSource — источник учётных записей для логина и профиля.
type UserSource interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type AuthHandler struct {
	users    UserSource
	sessions *service.SessionRegistry
	revoked  *service.TokenRevocationList
	tokens   *token.Manager
	// sessionTTL выбирает срок сессии по роли (привилегированные живут дольше).
	sessionTTL func(role string) time.Duration
}

func NewAuthHandler(users UserSource, sessions *service.SessionRegistry, revoked *service.TokenRevocationList, tokens *token.Manager, sessionTTL func(role string) time.Duration) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions, revoked: revoked, tokens: tokens, sessionTTL: sessionTTL}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Login проверяет учётные данные, выпускает токен и создаёт сессию
// (перезаписывая прежнюю — одна живая сессия на пользователя).
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email и password обязательны")
		return
	}
	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Errorf("login lookup email=%s: %v", middleware.MaskID(req.Email), err)
		writeError(w, http.StatusInternalServerError, "Ошибка входа")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	signed, err := h.tokens.Issue(user.ID, user.Role, user.Name)
	if err != nil {
		logger.Errorf("login issue token user_id=%s: %v", middleware.MaskID(user.ID), err)
		writeError(w, http.StatusInternalServerError, "Ошибка входа")
		return
	}
	payload, _ := json.Marshal(map[string]string{"name": user.Name, "email": user.Email})
	if _, err := h.sessions.Create(r.Context(), user.ID, user.Role, payload, h.sessionTTL(user.Role)); err != nil {
		// Сессию не записали — токен без сессии бесполезен, это ошибка логина.
		logger.Errorf("login create session user_id=%s: %v", middleware.MaskID(user.ID), err)
		writeError(w, http.StatusInternalServerError, "Ошибка входа")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: signed, User: user})
}

// Logout отзывает текущий токен до его естественного истечения и удаляет сессию.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	raw := middleware.GetToken(r.Context())
	if userID == "" || raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims, err := h.tokens.Verify(raw); err == nil {
		if err := h.revoked.Revoke(r.Context(), raw, h.tokens.RemainingTTL(claims)); err != nil {
			logger.Errorf("logout revoke user_id=%s: %v", middleware.MaskID(userID), err)
		}
	}
	if err := h.sessions.Destroy(r.Context(), userID); err != nil {
		logger.Errorf("logout destroy session user_id=%s: %v", middleware.MaskID(userID), err)
		writeError(w, http.StatusInternalServerError, "Ошибка выхода")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me возвращает профиль текущего пользователя (через кеш user:<id>).
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if cached, ok := h.sessions.CachedUser(r.Context(), userID); ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Пользователь не найден")
			return
		}
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки профиля")
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки профиля")
		return
	}
	if err := h.sessions.CacheUser(r.Context(), userID, data); err != nil {
		logger.Errorf("me cache user_id=%s: %v", middleware.MaskID(userID), err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
