package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// Report types accepted by the analysis engine.
const (
	ReportTypeFull   = "full"
	ReportTypeSimple = "simple"
)

var (
	ErrInvalidStockCode  = errors.New("invalid stock code")
	ErrInvalidReportType = errors.New("invalid report type")
)

// Supported markets: A-share (6 digits), Hong Kong (HK + 5 digits),
// US (1-5 letters, optional class suffix).
var (
	aShareCodePattern = regexp.MustCompile(`^\d{6}$`)
	hkCodePattern     = regexp.MustCompile(`^HK\d{5}$`)
	usCodePattern     = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)
)

// ValidateStockCode checks a normalized (uppercase, trimmed) code against
// the supported market formats.
func ValidateStockCode(code string) error {
	if aShareCodePattern.MatchString(code) || hkCodePattern.MatchString(code) || usCodePattern.MatchString(code) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStockCode, code)
}

func validateReportType(reportType string) error {
	switch reportType {
	case ReportTypeFull, ReportTypeSimple:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidReportType, reportType)
}

// SubmitResult tells the caller whether a fresh task was queued or a report
// generated earlier today was reused.
type SubmitResult struct {
	TaskID string          `json:"task_id"`
	Cached bool            `json:"cached"`
	Report *AnalysisReport `json:"report,omitempty"`
}

// AnalysisService coordinates task creation between the store and the queue.
type AnalysisService struct {
	tasks TaskRepository
	queue RedisClient
	now   func() time.Time
}

func NewAnalysisService(tasks TaskRepository, queue RedisClient) *AnalysisService {
	return &AnalysisService{tasks: tasks, queue: queue, now: time.Now}
}

// Submit validates the request, reuses today's cached report when one
// exists, and otherwise persists a pending task and enqueues its ID.
// forceRefresh skips the cache lookup so the report is regenerated even
// when one was produced earlier today.
func (s *AnalysisService) Submit(ctx context.Context, userID int64, stockCode, reportType string, forceRefresh bool) (*SubmitResult, error) {
	code := strings.ToUpper(strings.TrimSpace(stockCode))
	if err := ValidateStockCode(code); err != nil {
		return nil, err
	}
	if reportType == "" {
		reportType = ReportTypeFull
	}
	if err := validateReportType(reportType); err != nil {
		return nil, err
	}

	now := s.now()
	if !forceRefresh {
		cached, err := s.tasks.FindCachedReport(ctx, code, now.Format("2006-01-02"), reportType)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return &SubmitResult{TaskID: cached.TaskID, Cached: true, Report: cached}, nil
		}
	}

	taskID := NewTaskID(code, now)
	if _, err := s.tasks.Create(ctx, taskID, userID, code, reportType); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, PendingQueueKey, taskID); err != nil {
		// The row exists but no worker will ever see it; fail it now so the
		// status endpoint does not report a forever-pending task.
		if markErr := s.tasks.MarkFailed(ctx, taskID, "enqueue failed"); markErr != nil {
			log.Printf("mark task %s failed after enqueue error: %v", taskID, markErr)
		}
		return nil, fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return &SubmitResult{TaskID: taskID}, nil
}

// Task returns one task with ownership enforced: non-admins only see their
// own tasks, and a foreign task is indistinguishable from a missing one.
func (s *AnalysisService) Task(ctx context.Context, who Identity, taskID string) (*AnalysisTask, error) {
	t, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin && t.UserID != who.UserID {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// Tasks lists the caller's recent tasks, newest first.
func (s *AnalysisService) Tasks(ctx context.Context, who Identity, limit int) ([]AnalysisTask, error) {
	return s.tasks.ListByUser(ctx, who.UserID, limit)
}
