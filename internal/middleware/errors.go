package middleware

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError отдаёт ошибку в том же JSON-формате, что и handlers
// (тело вида {"error": "..."} с правильным Content-Type).
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
