package model

import "time"

// RateLimitResult — результат одного инкремента fixed-window счётчика.
// Exceeded выставляется когда Count > лимита: запрос, переваливший лимит,
// сам уже отклоняется.
type RateLimitResult struct {
	Count     int64
	Remaining int64
	Exceeded  bool
	// ResetAt — конец текущего окна (начало окна + window, не «сейчас + window»).
	ResetAt time.Time
}
