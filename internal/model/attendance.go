package model

import "time"

// RoomSession — состояние одного живого подключения в комнате занятия.
// Живёт строго от join-room до disconnect, владеет им только presence-хаб,
// никуда не персистится.
type RoomSession struct {
	ConnectionID string
	UserID       string
	UserName     string
	RoomID       string
	CourseID     string
	JoinedAt     time.Time
}

// AttendanceEvent — производная запись посещаемости, отдаётся внешнему хранилищу
// при disconnect. Ключ идемпотентности ниже по течению — (RoomID, UserID).
type AttendanceEvent struct {
	RoomID          string    `json:"room_id"`
	CourseID        string    `json:"course_id"`
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	DurationMinutes int       `json:"duration_minutes"`
	ObservedAt      time.Time `json:"observed_at"`
}

// AttendanceStatusPresent — единственный статус, который выставляет хаб сам.
const AttendanceStatusPresent = "present"
