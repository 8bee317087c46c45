package core

import (
	"context"
	"errors"
	"log"
	"time"
)

// WorkerProcessor consumes task IDs from the queue and drives one analysis
// run end to end: acquire the pending row, fetch engine data, generate the
// report, persist it.
type WorkerProcessor struct {
	tasks  TaskRepository
	engine EngineClient
	now    func() time.Time
}

func NewWorkerProcessor(tasks TaskRepository, engine EngineClient) *WorkerProcessor {
	return &WorkerProcessor{tasks: tasks, engine: engine, now: time.Now}
}

// Process runs the analysis pipeline for one queued task ID.
// Returns the final status and a system-level error (non-nil when the job
// should be retried instead of acked).
func (p *WorkerProcessor) Process(ctx context.Context, taskID string) (string, error) {
	task, err := p.tasks.AcquirePending(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotPending) || errors.Is(err, ErrTaskNotFound) {
			// Already picked up elsewhere, or deleted. Ack and move on.
			log.Printf("skip task %s: %v", taskID, err)
			return "", nil
		}
		return "", err
	}

	data, err := p.engine.FetchStockData(ctx, task.StockCode)
	if err != nil {
		return p.fail(ctx, task.TaskID, "fetch stock data: "+err.Error())
	}

	report, err := p.engine.GenerateReport(ctx, task.StockCode, task.ReportType, data)
	if err != nil {
		return p.fail(ctx, task.TaskID, "generate report: "+err.Error())
	}

	saved := AnalysisReport{
		TaskID:     task.TaskID,
		StockCode:  task.StockCode,
		ReportDate: p.now().Format("2006-01-02"),
		ReportType: task.ReportType,
		Content:    report,
	}
	if err := p.tasks.SaveReport(ctx, saved, TaskStatusSucceeded); err != nil {
		log.Printf("failed to save report for %s: %v", task.TaskID, err)
		return "", err
	}
	return TaskStatusSucceeded, nil
}

// fail records the engine error on the task. Engine failures are terminal
// for the run; the caller acks the job so it is not retried forever, and a
// user can always resubmit.
func (p *WorkerProcessor) fail(ctx context.Context, taskID, message string) (string, error) {
	if err := p.tasks.MarkFailed(ctx, taskID, message); err != nil {
		log.Printf("failed to mark task %s failed: %v", taskID, err)
		return "", err
	}
	return TaskStatusFailed, nil
}
