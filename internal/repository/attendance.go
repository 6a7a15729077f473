package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stms/internal/logger"
	"github.com/stms/internal/model"
)

// AttendanceRepository — персистенция записей посещаемости (presence.AttendanceSink).
type AttendanceRepository struct {
	pool *pgxpool.Pool
}

func NewAttendanceRepository(pool *pgxpool.Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// RecordAttendance — идемпотентный upsert по (lecture_id, student_id):
// повторный disconnect того же участника перезаписывает строку, а не дублирует.
func (r *AttendanceRepository) RecordAttendance(ctx context.Context, ev model.AttendanceEvent) error {
	defer logger.DeferLogDuration("attendance.RecordAttendance", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance (lecture_id, course_id, student_id, status, duration_minutes, observed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (lecture_id, student_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   duration_minutes = EXCLUDED.duration_minutes,
		   observed_at = EXCLUDED.observed_at`,
		ev.RoomID, ev.CourseID, ev.UserID, ev.Status, ev.DurationMinutes, ev.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("attendanceRepo.RecordAttendance: %w", err)
	}
	return nil
}

// ListByLecture возвращает записи посещаемости занятия (для отчётов тренера).
func (r *AttendanceRepository) ListByLecture(ctx context.Context, lectureID string) ([]model.AttendanceEvent, error) {
	defer logger.DeferLogDuration("attendance.ListByLecture", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT lecture_id, course_id, student_id, status, duration_minutes, observed_at
		 FROM attendance WHERE lecture_id = $1 ORDER BY observed_at`, lectureID)
	if err != nil {
		return nil, fmt.Errorf("attendanceRepo.ListByLecture: %w", err)
	}
	defer rows.Close()
	var list []model.AttendanceEvent
	for rows.Next() {
		var ev model.AttendanceEvent
		if err := rows.Scan(&ev.RoomID, &ev.CourseID, &ev.UserID, &ev.Status, &ev.DurationMinutes, &ev.ObservedAt); err != nil {
			return nil, err
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}
