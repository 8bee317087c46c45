package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestQueueReserveAck(t *testing.T) {
	queue, _, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	if err := queue.Enqueue(ctx, PendingQueueKey, "600519_20260302_153000"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := queue.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if job != "600519_20260302_153000" {
		t.Fatalf("job = %q", job)
	}

	// queue is now empty
	if _, err := queue.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, time.Minute); !errors.Is(err, redis.Nil) {
		t.Fatalf("empty reserve: got %v, want redis.Nil", err)
	}

	if err := queue.Ack(ctx, ProcessingQueueKey, job); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestQueueRequeueExpired(t *testing.T) {
	queue, _, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	if err := queue.Enqueue(ctx, PendingQueueKey, "AAPL_20260302_153000"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, 50*time.Millisecond); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// before the visibility deadline nothing is reclaimed
	moved, err := queue.RequeueExpired(ctx, ProcessingQueueKey, PendingQueueKey, time.Now())
	if err != nil {
		t.Fatalf("RequeueExpired: %v", err)
	}
	if len(moved) != 0 {
		t.Fatalf("reclaimed %v before deadline", moved)
	}

	// after the deadline the job returns to pending
	moved, err = queue.RequeueExpired(ctx, ProcessingQueueKey, PendingQueueKey, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("RequeueExpired: %v", err)
	}
	if len(moved) != 1 || moved[0] != "AAPL_20260302_153000" {
		t.Fatalf("reclaimed %v", moved)
	}

	job, err := queue.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, time.Minute)
	if err != nil || job != "AAPL_20260302_153000" {
		t.Fatalf("re-reserve: job=%q err=%v", job, err)
	}
}
