package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeTaskRepo is an in-memory TaskRepository for tests.
type fakeTaskRepo struct {
	tasks   map[string]*AnalysisTask
	reports map[string]*AnalysisReport // key: code|date|type
	retries map[string]int
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		tasks:   map[string]*AnalysisTask{},
		reports: map[string]*AnalysisReport{},
		retries: map[string]int{},
	}
}

func reportKey(code, date, typ string) string { return code + "|" + date + "|" + typ }

func (f *fakeTaskRepo) Create(ctx context.Context, taskID string, userID int64, stockCode, reportType string) (time.Time, error) {
	now := time.Now()
	f.tasks[taskID] = &AnalysisTask{
		TaskID: taskID, UserID: userID, StockCode: stockCode, ReportType: reportType,
		Status: TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	return now, nil
}

func (f *fakeTaskRepo) FindByID(ctx context.Context, taskID string) (*AnalysisTask, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]AnalysisTask, error) {
	var out []AnalysisTask
	for _, t := range f.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) AcquirePending(ctx context.Context, taskID string) (*AnalysisTask, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Status != TaskStatusPending {
		return nil, ErrTaskNotPending
	}
	t.Status = TaskStatusRunning
	cp := *t
	return &cp, nil
}

func (f *fakeTaskRepo) MarkStatus(ctx context.Context, taskID, status string) error {
	t, ok := f.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeTaskRepo) SaveReport(ctx context.Context, report AnalysisReport, finalStatus string) error {
	t, ok := f.tasks[report.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = finalStatus
	cp := report
	f.reports[reportKey(report.StockCode, report.ReportDate, report.ReportType)] = &cp
	return nil
}

func (f *fakeTaskRepo) MarkFailed(ctx context.Context, taskID, message string) error {
	t, ok := f.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = TaskStatusFailed
	t.ErrorMessage = &message
	return nil
}

func (f *fakeTaskRepo) IncrementRetry(ctx context.Context, taskID string) (int, error) {
	f.retries[taskID]++
	return f.retries[taskID], nil
}

func (f *fakeTaskRepo) FindCachedReport(ctx context.Context, stockCode, reportDate, reportType string) (*AnalysisReport, error) {
	r, ok := f.reports[reportKey(stockCode, reportDate, reportType)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeTaskRepo) CountByStatus(ctx context.Context, status string) (int, error) {
	n := 0
	for _, t := range f.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func newTestQueue(t *testing.T) (*RedisQueue, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueue(rdb), rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestValidateStockCode(t *testing.T) {
	valid := []string{"600519", "000001", "HK00700", "AAPL", "BRK.A", "MSFT", "A"}
	for _, code := range valid {
		if err := ValidateStockCode(code); err != nil {
			t.Errorf("ValidateStockCode(%q) = %v, want nil", code, err)
		}
	}
	invalid := []string{"", "60051", "6005191", "HK0070", "HK007000", "aapl", "TOOLONG", "BRK.ABC", "600519A"}
	for _, code := range invalid {
		if err := ValidateStockCode(code); err == nil {
			t.Errorf("ValidateStockCode(%q) = nil, want error", code)
		}
	}
}

func TestSubmitEnqueuesTask(t *testing.T) {
	queue, rdb, cleanup := newTestQueue(t)
	defer cleanup()
	repo := newFakeTaskRepo()
	svc := NewAnalysisService(repo, queue)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC) }

	res, err := svc.Submit(context.Background(), 1, " hk00700 ", "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Cached {
		t.Fatal("fresh submission marked cached")
	}
	if res.TaskID != "HK00700_20260302_153000" {
		t.Fatalf("task_id = %q", res.TaskID)
	}

	task, err := repo.FindByID(context.Background(), res.TaskID)
	if err != nil || task.Status != TaskStatusPending || task.ReportType != ReportTypeFull {
		t.Fatalf("stored task: %+v err=%v", task, err)
	}

	jobs, err := rdb.LRange(context.Background(), PendingQueueKey, 0, -1).Result()
	if err != nil || len(jobs) != 1 || jobs[0] != res.TaskID {
		t.Fatalf("queue contents: %v err=%v", jobs, err)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	queue, _, cleanup := newTestQueue(t)
	defer cleanup()
	svc := NewAnalysisService(newFakeTaskRepo(), queue)

	if _, err := svc.Submit(context.Background(), 1, "bogus!", ReportTypeFull, false); !errors.Is(err, ErrInvalidStockCode) {
		t.Fatalf("invalid code: got %v", err)
	}
	if _, err := svc.Submit(context.Background(), 1, "600519", "fancy", false); !errors.Is(err, ErrInvalidReportType) {
		t.Fatalf("invalid report type: got %v", err)
	}
}

func TestSubmitReusesTodaysReport(t *testing.T) {
	queue, rdb, cleanup := newTestQueue(t)
	defer cleanup()
	repo := newFakeTaskRepo()
	svc := NewAnalysisService(repo, queue)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC) }

	repo.reports[reportKey("600519", "2026-03-02", ReportTypeFull)] = &AnalysisReport{
		TaskID: "600519_20260302_090000", StockCode: "600519",
		ReportDate: "2026-03-02", ReportType: ReportTypeFull, Content: "cached report",
	}

	res, err := svc.Submit(context.Background(), 1, "600519", ReportTypeFull, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Cached || res.Report == nil || res.Report.Content != "cached report" {
		t.Fatalf("cached result: %+v", res)
	}
	if n, _ := rdb.LLen(context.Background(), PendingQueueKey).Result(); n != 0 {
		t.Fatalf("cached hit must not enqueue, queue len = %d", n)
	}
}

func TestSubmitForceRefreshBypassesCache(t *testing.T) {
	queue, rdb, cleanup := newTestQueue(t)
	defer cleanup()
	repo := newFakeTaskRepo()
	svc := NewAnalysisService(repo, queue)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC) }

	repo.reports[reportKey("600519", "2026-03-02", ReportTypeFull)] = &AnalysisReport{
		TaskID: "600519_20260302_090000", StockCode: "600519",
		ReportDate: "2026-03-02", ReportType: ReportTypeFull, Content: "stale report",
	}

	res, err := svc.Submit(context.Background(), 1, "600519", ReportTypeFull, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Cached || res.Report != nil {
		t.Fatalf("forced submission reused cache: %+v", res)
	}
	if res.TaskID != "600519_20260302_153000" {
		t.Fatalf("task_id = %q", res.TaskID)
	}
	jobs, err := rdb.LRange(context.Background(), PendingQueueKey, 0, -1).Result()
	if err != nil || len(jobs) != 1 || jobs[0] != res.TaskID {
		t.Fatalf("queue contents: %v err=%v", jobs, err)
	}
}

func TestTaskOwnership(t *testing.T) {
	queue, _, cleanup := newTestQueue(t)
	defer cleanup()
	repo := newFakeTaskRepo()
	svc := NewAnalysisService(repo, queue)

	res, err := svc.Submit(context.Background(), 7, "AAPL", ReportTypeSimple, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	owner := Identity{UserID: 7, Username: "alice"}
	if _, err := svc.Task(context.Background(), owner, res.TaskID); err != nil {
		t.Fatalf("owner access: %v", err)
	}

	stranger := Identity{UserID: 8, Username: "bob"}
	if _, err := svc.Task(context.Background(), stranger, res.TaskID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("foreign task must read as missing, got %v", err)
	}

	admin := Identity{UserID: 9, Username: "root", IsAdmin: true}
	if _, err := svc.Task(context.Background(), admin, res.TaskID); err != nil {
		t.Fatalf("admin access: %v", err)
	}
}
