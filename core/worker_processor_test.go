package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeEngine returns canned data and reports.
type fakeEngine struct {
	fetchErr  error
	reportErr error
	report    string
}

func (f *fakeEngine) FetchStockData(ctx context.Context, stockCode string) (*EngineStockData, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &EngineStockData{StockCode: stockCode, Name: "Test Corp"}, nil
}

func (f *fakeEngine) GenerateReport(ctx context.Context, stockCode, reportType string, data *EngineStockData) (string, error) {
	if f.reportErr != nil {
		return "", f.reportErr
	}
	return f.report, nil
}

func TestProcessSuccess(t *testing.T) {
	repo := newFakeTaskRepo()
	repo.Create(context.Background(), "AAPL_20260302_153000", 1, "AAPL", ReportTypeFull)
	p := NewWorkerProcessor(repo, &fakeEngine{report: "all good"})
	p.now = func() time.Time { return time.Date(2026, 3, 2, 15, 31, 0, 0, time.UTC) }

	status, err := p.Process(context.Background(), "AAPL_20260302_153000")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if status != TaskStatusSucceeded {
		t.Fatalf("status = %q", status)
	}

	rep, _ := repo.FindCachedReport(context.Background(), "AAPL", "2026-03-02", ReportTypeFull)
	if rep == nil || rep.Content != "all good" {
		t.Fatalf("report not saved: %+v", rep)
	}
	task, _ := repo.FindByID(context.Background(), "AAPL_20260302_153000")
	if task.Status != TaskStatusSucceeded {
		t.Fatalf("task status = %q", task.Status)
	}
}

func TestProcessEngineFailureIsTerminal(t *testing.T) {
	repo := newFakeTaskRepo()
	repo.Create(context.Background(), "AAPL_20260302_153000", 1, "AAPL", ReportTypeFull)
	p := NewWorkerProcessor(repo, &fakeEngine{reportErr: errors.New("model overloaded")})

	status, err := p.Process(context.Background(), "AAPL_20260302_153000")
	if err != nil {
		t.Fatalf("engine failure should not request a retry: %v", err)
	}
	if status != TaskStatusFailed {
		t.Fatalf("status = %q", status)
	}

	task, _ := repo.FindByID(context.Background(), "AAPL_20260302_153000")
	if task.Status != TaskStatusFailed || task.ErrorMessage == nil {
		t.Fatalf("task after failure: %+v", task)
	}
}

func TestProcessSkipsNonPending(t *testing.T) {
	repo := newFakeTaskRepo()
	repo.Create(context.Background(), "AAPL_20260302_153000", 1, "AAPL", ReportTypeFull)
	repo.MarkStatus(context.Background(), "AAPL_20260302_153000", TaskStatusRunning)
	p := NewWorkerProcessor(repo, &fakeEngine{report: "x"})

	if _, err := p.Process(context.Background(), "AAPL_20260302_153000"); err != nil {
		t.Fatalf("already-running task should be skipped, not retried: %v", err)
	}
	if _, err := p.Process(context.Background(), "missing"); err != nil {
		t.Fatalf("missing task should be skipped, not retried: %v", err)
	}
}
