package middleware

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	RoleKey     contextKey = "role"
	UserNameKey contextKey = "user_name"
	TokenKey    contextKey = "bearer_token"
)

// GetUserID возвращает user_id из контекста (устанавливается Auth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetRole возвращает роль пользователя из контекста.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

// GetUserName возвращает отображаемое имя пользователя из контекста.
func GetUserName(ctx context.Context) string {
	v, _ := ctx.Value(UserNameKey).(string)
	return v
}

// GetToken возвращает сырой bearer-токен запроса (нужен logout для blacklist).
func GetToken(ctx context.Context) string {
	v, _ := ctx.Value(TokenKey).(string)
	return v
}
