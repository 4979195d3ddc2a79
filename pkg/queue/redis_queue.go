// Package queue dispatches indexing tasks through a Redis stream so any
// worker process can pick them up.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"personaai/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Task asks a worker to run one indexing job.
type Task struct {
	JobID     string
	ProfileID string
}

// Delivery is the queue's own bookkeeping for a task. The indexing job's
// state lives in the store; this only tracks attempts.
type Delivery struct {
	JobID        string    `json:"jobId"`
	ProfileID    string    `json:"profileId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler runs a task. Returning an error schedules a retry.
type Handler func(context.Context, Task) error

type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	statusTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
	groupErr     error
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	DB         int
	Stream     string
	Group      string
	Consumer   string
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "rag-indexers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		statusTTL:    statusTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Close releases the redis connection pool.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

// Enqueue adds a task to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, task Task) error {
	task.JobID = strings.TrimSpace(task.JobID)
	task.ProfileID = strings.TrimSpace(task.ProfileID)
	if task.JobID == "" || task.ProfileID == "" {
		return errors.New("jobId and profileId required")
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	d := Delivery{
		JobID:     task.JobID,
		ProfileID: task.ProfileID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, d); err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":     task.JobID,
			"profile_id": task.ProfileID,
		},
	}).Err()
}

// GetDelivery returns the delivery bookkeeping for a job.
func (q *RedisJobQueue) GetDelivery(ctx context.Context, jobID string) (Delivery, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Delivery{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.statusKey(jobID)).Result()
	if err != nil {
		return Delivery{}, false, err
	}
	if len(data) == 0 {
		return Delivery{}, false, nil
	}
	return decodeDelivery(jobID, data), true, nil
}

// Run consumes tasks with concurrency workers until ctx is cancelled.
func (q *RedisJobQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				util.LoggerFromContext(ctx).Warn("queue read failed", "stream", q.stream, "err", err)
				sleep(ctx, q.retryDelay)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

// claimPending takes over messages a crashed consumer left unacknowledged.
func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	profileID, _ := msg.Values["profile_id"].(string)
	if jobID == "" || profileID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	d, err := q.markProcessing(ctx, jobID, profileID)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger := util.LoggerFromContext(ctx).With("job_id", jobID, "profile_id", profileID, "attempt", d.Attempts)
	err = handler(ctx, Task{JobID: jobID, ProfileID: profileID})
	if err == nil {
		_ = q.mark(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if d.Attempts >= q.maxRetries {
		logger.Error("indexing task failed permanently", "err", err)
		_ = q.mark(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("indexing task failed, retrying", "err", err)
	_ = q.mark(ctx, jobID, StatusQueued, err.Error())
	if !sleep(ctx, q.retryDelay) {
		return
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID, profileID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the task and drops the original atomically, so a
// failure leaves the original pending for reclaim.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, profileID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":     jobID,
			"profile_id": profileID,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, profileID string) (Delivery, error) {
	d, _, err := q.GetDelivery(ctx, jobID)
	if err != nil {
		return Delivery{}, err
	}
	d.JobID = jobID
	d.ProfileID = profileID
	d.Attempts++
	d.Status = StatusProcessing
	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	if err := q.writeStatus(ctx, d); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (q *RedisJobQueue) mark(ctx context.Context, jobID, status, errMsg string) error {
	d, _, err := q.GetDelivery(ctx, jobID)
	if err != nil {
		return err
	}
	d.JobID = jobID
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, d)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, d Delivery) error {
	key := q.statusKey(d.JobID)
	payload := map[string]any{
		"profileId": d.ProfileID,
		"status":    d.Status,
		"error":     d.ErrorMessage,
		"attempts":  strconv.Itoa(d.Attempts),
		"createdAt": d.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.statusTTL).Err()
	return nil
}

func (q *RedisJobQueue) statusKey(jobID string) string {
	return fmt.Sprintf("delivery:%s:%s", q.stream, jobID)
}

func decodeDelivery(jobID string, data map[string]string) Delivery {
	d := Delivery{
		JobID:        jobID,
		ProfileID:    data["profileId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.UpdatedAt = t
		}
	}
	return d
}
