package core

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task statuses stored in analysis_tasks.status.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// AnalysisTask represents one queued stock analysis run.
type AnalysisTask struct {
	TaskID       string     `json:"task_id"`
	UserID       int64      `json:"user_id"`
	StockCode    string     `json:"stock_code"`
	ReportType   string     `json:"report_type"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// AnalysisReport is the finished report body, cached per code and day so a
// stock analyzed twice in one day is served from the first run.
type AnalysisReport struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	StockCode  string    `json:"stock_code"`
	ReportDate string    `json:"report_date"`
	ReportType string    `json:"report_type"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrTaskNotFound   = errors.New("analysis task not found")
	ErrTaskNotPending = errors.New("analysis task not pending")
)

// TaskRepository defines persistence operations shared by API and worker.
type TaskRepository interface {
	Create(ctx context.Context, taskID string, userID int64, stockCode, reportType string) (time.Time, error)
	FindByID(ctx context.Context, taskID string) (*AnalysisTask, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]AnalysisTask, error)
	AcquirePending(ctx context.Context, taskID string) (*AnalysisTask, error)
	MarkStatus(ctx context.Context, taskID, status string) error
	SaveReport(ctx context.Context, report AnalysisReport, finalStatus string) error
	MarkFailed(ctx context.Context, taskID, message string) error
	IncrementRetry(ctx context.Context, taskID string) (int, error)
	FindCachedReport(ctx context.Context, stockCode, reportDate, reportType string) (*AnalysisReport, error)
	CountByStatus(ctx context.Context, status string) (int, error)
}

// PgTaskRepository is a pgx implementation.
// NOTE: Expects tables `analysis_tasks` and `analysis_reports` to exist.
type PgTaskRepository struct {
	db *pgxpool.Pool
}

func NewPgTaskRepository(db *pgxpool.Pool) *PgTaskRepository {
	return &PgTaskRepository{db: db}
}

const taskColumns = `task_id, user_id, stock_code, report_type, status, error_message, created_at, updated_at, finished_at`

func scanTask(row pgx.Row) (*AnalysisTask, error) {
	var t AnalysisTask
	var errMsg sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&t.TaskID, &t.UserID, &t.StockCode, &t.ReportType, &t.Status, &errMsg, &t.CreatedAt, &t.UpdatedAt, &finished); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	if finished.Valid {
		t.FinishedAt = &finished.Time
	}
	return &t, nil
}

func (r *PgTaskRepository) Create(ctx context.Context, taskID string, userID int64, stockCode, reportType string) (time.Time, error) {
	const q = `INSERT INTO analysis_tasks (task_id, user_id, stock_code, report_type, status)
			VALUES ($1,$2,$3,$4,'pending') RETURNING created_at`
	var created time.Time
	if err := r.db.QueryRow(ctx, q, taskID, userID, stockCode, reportType).Scan(&created); err != nil {
		return time.Time{}, err
	}
	return created, nil
}

func (r *PgTaskRepository) FindByID(ctx context.Context, taskID string) (*AnalysisTask, error) {
	const q = `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE task_id=$1`
	return scanTask(r.db.QueryRow(ctx, q, taskID))
}

func (r *PgTaskRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]AnalysisTask, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]AnalysisTask, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// AcquirePending locks a pending task and transitions it to running atomically.
func (r *PgTaskRepository) AcquirePending(ctx context.Context, taskID string) (*AnalysisTask, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE task_id=$1 FOR UPDATE`
	t, err := scanTask(tx.QueryRow(ctx, sel, taskID))
	if err != nil {
		return nil, err
	}
	if t.Status != TaskStatusPending {
		return nil, ErrTaskNotPending
	}

	const upd = `UPDATE analysis_tasks SET status='running', updated_at=NOW() WHERE task_id=$1`
	if _, err := tx.Exec(ctx, upd, taskID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	t.Status = TaskStatusRunning
	return t, nil
}

func (r *PgTaskRepository) MarkStatus(ctx context.Context, taskID, status string) error {
	if status == "" {
		return errors.New("status is empty")
	}
	const q = `UPDATE analysis_tasks SET status=$1, updated_at=NOW() WHERE task_id=$2`
	ct, err := r.db.Exec(ctx, q, status, taskID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SaveReport stores the report body and finishes the task in one transaction.
func (r *PgTaskRepository) SaveReport(ctx context.Context, report AnalysisReport, finalStatus string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const updStatus = `UPDATE analysis_tasks SET status=$1, updated_at=NOW(), finished_at=NOW() WHERE task_id=$2`
	if ct, err := tx.Exec(ctx, updStatus, finalStatus, report.TaskID); err != nil {
		return err
	} else if ct.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	const q = `INSERT INTO analysis_reports (task_id, stock_code, report_date, report_type, content, created_at)
			VALUES ($1,$2,$3,$4,$5,NOW())
			ON CONFLICT (stock_code, report_date, report_type) DO UPDATE SET
			  task_id=EXCLUDED.task_id,
			  content=EXCLUDED.content,
			  created_at=NOW()`
	if _, err := tx.Exec(ctx, q, report.TaskID, report.StockCode, report.ReportDate, report.ReportType, report.Content); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PgTaskRepository) MarkFailed(ctx context.Context, taskID, message string) error {
	const q = `UPDATE analysis_tasks SET status='failed', error_message=$1, updated_at=NOW(), finished_at=NOW() WHERE task_id=$2`
	ct, err := r.db.Exec(ctx, q, message, taskID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// IncrementRetry increments retry_count and returns the latest value.
func (r *PgTaskRepository) IncrementRetry(ctx context.Context, taskID string) (int, error) {
	const q = `UPDATE analysis_tasks SET retry_count = retry_count + 1, updated_at=NOW() WHERE task_id=$1 RETURNING retry_count`
	var count int
	if err := r.db.QueryRow(ctx, q, taskID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindCachedReport returns the report already generated today for the code,
// or nil when a fresh run is needed.
func (r *PgTaskRepository) FindCachedReport(ctx context.Context, stockCode, reportDate, reportType string) (*AnalysisReport, error) {
	const q = `SELECT id, task_id, stock_code, report_date::text, report_type, content, created_at
			FROM analysis_reports WHERE stock_code=$1 AND report_date=$2 AND report_type=$3`
	var rep AnalysisReport
	err := r.db.QueryRow(ctx, q, stockCode, reportDate, reportType).Scan(
		&rep.ID, &rep.TaskID, &rep.StockCode, &rep.ReportDate, &rep.ReportType, &rep.Content, &rep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rep, nil
}

func (r *PgTaskRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	const q = `SELECT COUNT(*) FROM analysis_tasks WHERE status=$1`
	var c int
	if err := r.db.QueryRow(ctx, q, status).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}
