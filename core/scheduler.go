package core

import (
	"context"
	"log"
	"time"
)

// CustomTaskScheduler fires user schedules once per matching minute. It
// tolerates crashes and restarts: last_run_at gates re-runs within a day,
// and a run marked before submission failure is simply skipped until the
// next day, never double-submitted.
type CustomTaskScheduler struct {
	schedules CustomTaskRepository
	analysis  *AnalysisService
	now       func() time.Time
}

func NewCustomTaskScheduler(schedules CustomTaskRepository, analysis *AnalysisService) *CustomTaskScheduler {
	return &CustomTaskScheduler{schedules: schedules, analysis: analysis, now: time.Now}
}

// RunOnce submits every schedule due at the given time. Returns the number
// of tasks submitted.
func (s *CustomTaskScheduler) RunOnce(ctx context.Context, at time.Time) int {
	due, err := s.schedules.ListDue(ctx, at)
	if err != nil {
		log.Printf("scheduler: list due tasks: %v", err)
		return 0
	}

	submitted := 0
	for _, t := range due {
		if err := s.schedules.MarkRun(ctx, t.ID, at); err != nil {
			log.Printf("scheduler: mark run for schedule %d: %v", t.ID, err)
			continue
		}
		res, err := s.analysis.Submit(ctx, t.UserID, t.StockCode, t.ReportType, false)
		if err != nil {
			log.Printf("scheduler: submit %s for user %d: %v", t.StockCode, t.UserID, err)
			continue
		}
		if res.Cached {
			log.Printf("scheduler: schedule %d reused cached report %s", t.ID, res.TaskID)
		} else {
			log.Printf("scheduler: schedule %d queued task %s", t.ID, res.TaskID)
		}
		submitted++
	}
	return submitted
}

// Run ticks once per minute until the context is cancelled.
func (s *CustomTaskScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, s.now())
		}
	}
}
