package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:index",
		Group:      "test-group",
		Consumer:   "consumer-1",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, task.JobID, task.ProfileID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != task.JobID || got.Values["profile_id"] != task.ProfileID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, task := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, task.JobID, task.ProfileID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueEnqueueValidates(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Enqueue(context.Background(), Task{JobID: "j1"}); err == nil {
		t.Fatalf("expected error for missing profile id")
	}
}

func TestRedisJobQueueRunDeliversTask(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, Task{JobID: "job-1", ProfileID: "profile-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got := make(chan Task, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 1, func(_ context.Context, task Task) error {
			got <- task
			return nil
		})
	}()

	select {
	case task := <-got:
		if task.JobID != "job-1" || task.ProfileID != "profile-1" {
			t.Fatalf("unexpected task: %+v", task)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("task not delivered")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	d, ok, err := q.GetDelivery(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("get delivery: ok=%v err=%v", ok, err)
	}
	if d.Status != StatusDone || d.Attempts != 1 {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestRedisJobQueueRetriesThenFails(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, Task{JobID: "job-2", ProfileID: "profile-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var calls atomic.Int32
	go func() {
		_ = q.Run(ctx, 1, func(context.Context, Task) error {
			calls.Add(1)
			return errors.New("store unavailable")
		})
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		d, ok, _ := q.GetDelivery(context.Background(), "job-2")
		if ok && d.Status == StatusFailed {
			if d.Attempts != 2 || d.ErrorMessage != "store unavailable" {
				t.Fatalf("unexpected delivery: %+v", d)
			}
			if calls.Load() != 2 {
				t.Fatalf("expected 2 handler calls, got %d", calls.Load())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task never marked failed")
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, Task) {
	t.Helper()
	q := newTestQueue(t)
	ctx := context.Background()

	task := Task{JobID: "job-1", ProfileID: "profile-1"}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, task
}
