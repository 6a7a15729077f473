package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stms/internal/logger"
	"github.com/stms/internal/model"
)

// AttendanceSource — источник записей посещаемости для отчётов тренера.
type AttendanceSource interface {
	ListByLecture(ctx context.Context, lectureID string) ([]model.AttendanceEvent, error)
}

type ReportHandler struct {
	attendance AttendanceSource
}

func NewReportHandler(attendance AttendanceSource) *ReportHandler {
	return &ReportHandler{attendance: attendance}
}

// LectureAttendance возвращает записи посещаемости занятия. Доступ ограничен
// ролями trainer/admin на уровне маршрута (до кеша, чтобы хит не обошёл проверку).
func (h *ReportHandler) LectureAttendance(w http.ResponseWriter, r *http.Request) {
	lectureID := chi.URLParam(r, "lectureID")
	if lectureID == "" {
		writeError(w, http.StatusBadRequest, "lecture id required")
		return
	}
	list, err := h.attendance.ListByLecture(r.Context(), lectureID)
	if err != nil {
		logger.Errorf("attendance report lecture_id=%s: %v", lectureID, err)
		writeError(w, http.StatusInternalServerError, "Ошибка загрузки посещаемости")
		return
	}
	if list == nil {
		list = []model.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, list)
}
