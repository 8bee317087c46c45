package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"stock-analysis-webui/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	queue := core.NewRedisQueue(redisClient)
	taskRepo := core.NewPgTaskRepository(db)
	customTaskRepo := core.NewPgCustomTaskRepository(db)
	engine := core.NewHTTPEngineClient(cfg.EngineURL, cfg.EngineTimeout)
	processor := core.NewWorkerProcessor(taskRepo, engine)
	analysis := core.NewAnalysisService(taskRepo, queue)
	scheduler := core.NewCustomTaskScheduler(customTaskRepo, analysis)

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	log.Printf("worker started. id=%s concurrency=%d queue=%s engine=%s", workerID, concurrency, core.PendingQueueKey, cfg.EngineURL)

	const pendingKey = core.PendingQueueKey
	const processingKey = core.ProcessingQueueKey
	visibility := core.DefaultVisibilityTimeout
	reclaimInterval := 15 * time.Second
	const maxRetries = 3

	state := core.NewHeartbeatState(workerID, hostname, concurrency)
	go state.Start(ctx, redisClient)

	// fire user schedules once per minute
	go scheduler.Run(ctx)

	// requeue expired in-flight jobs periodically
	go func() {
		ticker := time.NewTicker(reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if jobs, err := queue.RequeueExpired(ctx, processingKey, pendingKey, time.Now()); err != nil {
					log.Printf("[reclaimer] requeue expired error: %v", err)
				} else if len(jobs) > 0 {
					for _, job := range jobs {
						_ = taskRepo.MarkStatus(ctx, job, core.TaskStatusPending)
						_, _ = taskRepo.IncrementRetry(ctx, job)
					}
					log.Printf("[reclaimer] requeued %d expired jobs", len(jobs))
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			for {
				job, err := queue.Reserve(ctx, pendingKey, processingKey, visibility)
				if err != nil {
					if errors.Is(err, redis.Nil) {
						// Queue is empty, wait before retrying to avoid CPU spinning
						select {
						case <-ctx.Done():
							return
						case <-time.After(100 * time.Millisecond):
							continue
						}
					}
					// context canceled -> exit
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					log.Printf("[worker %d] dequeue error: %v", workerNum, err)
					time.Sleep(time.Second)
					continue
				}

				log.Printf("[worker %d] received task %s", workerNum, job)
				state.JobStarted(job)

				status, procErr := processor.Process(ctx, job)
				if procErr != nil {
					newRetry, incErr := taskRepo.IncrementRetry(ctx, job)
					if incErr != nil {
						log.Printf("[worker %d] increment retry failed for task %s: %v", workerNum, job, incErr)
					}

					if newRetry <= maxRetries {
						_ = taskRepo.MarkStatus(ctx, job, core.TaskStatusPending)
						if err := queue.Enqueue(ctx, pendingKey, job); err != nil {
							log.Printf("[worker %d] re-enqueue task %s failed: %v", workerNum, job, err)
						} else {
							log.Printf("[worker %d] task %s retried (retry_count=%d)", workerNum, job, newRetry)
						}
					} else {
						if failErr := taskRepo.MarkFailed(ctx, job, procErr.Error()); failErr != nil {
							log.Printf("[worker %d] final fail save for task %s: %v", workerNum, job, failErr)
						}
						log.Printf("[worker %d] task %s failed after retries (retry_count=%d)", workerNum, job, newRetry)
					}
				} else if status == core.TaskStatusFailed {
					log.Printf("[worker %d] task %s finished with status=%s", workerNum, job, status)
				}

				if err := queue.Ack(ctx, processingKey, job); err != nil {
					log.Printf("[worker %d] ack failed for task %s: %v", workerNum, job, err)
				}
				state.JobFinished(job, procErr)
			}
		}(i + 1)
	}

	wg.Wait()
}
