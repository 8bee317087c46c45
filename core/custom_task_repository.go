package core

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CustomTask is a user-defined daily analysis schedule: run the given stock
// at schedule_time (HH:MM, server local time) once per day.
type CustomTask struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	StockCode    string     `json:"stock_code"`
	ScheduleTime string     `json:"schedule_time"`
	ReportType   string     `json:"report_type"`
	Enabled      bool       `json:"enabled"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

var ErrCustomTaskNotFound = errors.New("custom task not found")

// CustomTaskRepository persists user schedules and feeds the scheduler loop.
type CustomTaskRepository interface {
	Create(ctx context.Context, userID int64, stockCode, scheduleTime, reportType string) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]CustomTask, error)
	SetEnabled(ctx context.Context, id, userID int64, enabled bool) error
	Delete(ctx context.Context, id, userID int64) error
	ListDue(ctx context.Context, at time.Time) ([]CustomTask, error)
	MarkRun(ctx context.Context, id int64, at time.Time) error
}

// PgCustomTaskRepository is a pgx implementation over `user_custom_tasks`.
type PgCustomTaskRepository struct {
	db *pgxpool.Pool
}

func NewPgCustomTaskRepository(db *pgxpool.Pool) *PgCustomTaskRepository {
	return &PgCustomTaskRepository{db: db}
}

const customTaskColumns = `id, user_id, stock_code, schedule_time, report_type, enabled, last_run_at, created_at`

func scanCustomTask(row pgx.Row) (*CustomTask, error) {
	var t CustomTask
	var lastRun sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.StockCode, &t.ScheduleTime, &t.ReportType, &t.Enabled, &lastRun, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomTaskNotFound
		}
		return nil, err
	}
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	return &t, nil
}

func (r *PgCustomTaskRepository) Create(ctx context.Context, userID int64, stockCode, scheduleTime, reportType string) (int64, error) {
	const q = `INSERT INTO user_custom_tasks (user_id, stock_code, schedule_time, report_type, enabled)
			VALUES ($1,$2,$3,$4,TRUE) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, userID, stockCode, scheduleTime, reportType).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *PgCustomTaskRepository) ListByUser(ctx context.Context, userID int64) ([]CustomTask, error) {
	const q = `SELECT ` + customTaskColumns + ` FROM user_custom_tasks WHERE user_id=$1 ORDER BY schedule_time, id`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []CustomTask
	for rows.Next() {
		t, err := scanCustomTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *PgCustomTaskRepository) SetEnabled(ctx context.Context, id, userID int64, enabled bool) error {
	const q = `UPDATE user_custom_tasks SET enabled=$1 WHERE id=$2 AND user_id=$3`
	ct, err := r.db.Exec(ctx, q, enabled, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCustomTaskNotFound
	}
	return nil
}

func (r *PgCustomTaskRepository) Delete(ctx context.Context, id, userID int64) error {
	const q = `DELETE FROM user_custom_tasks WHERE id=$1 AND user_id=$2`
	ct, err := r.db.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCustomTaskNotFound
	}
	return nil
}

// ListDue returns schedules matching the current minute that have not run
// today, for users still allowed to run them. Disabled users or users whose
// custom-task permission was revoked are filtered here so stale schedules
// never fire.
func (r *PgCustomTaskRepository) ListDue(ctx context.Context, at time.Time) ([]CustomTask, error) {
	const q = `SELECT t.id, t.user_id, t.stock_code, t.schedule_time, t.report_type, t.enabled, t.last_run_at, t.created_at
			FROM user_custom_tasks t
			JOIN users u ON u.id = t.user_id
			WHERE t.enabled
			  AND t.schedule_time = $1
			  AND (t.last_run_at IS NULL OR t.last_run_at::date < $2::date)
			  AND u.enabled
			  AND (u.is_admin OR u.can_custom_task)
			ORDER BY t.id`
	rows, err := r.db.Query(ctx, q, at.Format("15:04"), at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []CustomTask
	for rows.Next() {
		t, err := scanCustomTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *PgCustomTaskRepository) MarkRun(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE user_custom_tasks SET last_run_at=$1 WHERE id=$2`
	ct, err := r.db.Exec(ctx, q, at, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCustomTaskNotFound
	}
	return nil
}
