package middleware

import "net/http"

// RequireRole пропускает только перечисленные роли (после Auth). Ставится ДО
// кеширующих middleware: хит кеша не должен обходить проверку прав.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteJSONError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}
