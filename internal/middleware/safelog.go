package middleware

import "strings"

// MaskID маскирует идентификатор (user_id, IP) в логах — в prod не светить полностью.
func MaskID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
