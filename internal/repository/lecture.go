package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stms/internal/logger"
)

// LectureRepository — статус занятий (presence.LectureStatusSink).
type LectureRepository struct {
	pool *pgxpool.Pool
}

func NewLectureRepository(pool *pgxpool.Pool) *LectureRepository {
	return &LectureRepository{pool: pool}
}

// MarkCompleted помечает занятие завершённым. Отсутствие строки — не ошибка:
// комната могла быть создана для занятия, которого в БД ещё (или уже) нет.
func (r *LectureRepository) MarkCompleted(ctx context.Context, lectureID string) error {
	defer logger.DeferLogDuration("lecture.MarkCompleted", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE lectures SET status = 'completed', completed_at = NOW() WHERE id = $1 AND status <> 'completed'`,
		lectureID)
	if err != nil {
		return fmt.Errorf("lectureRepo.MarkCompleted: %w", err)
	}
	return nil
}
