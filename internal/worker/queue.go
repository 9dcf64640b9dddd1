// Package worker runs evaluations off the request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vasu-devs/Socratis/internal/metrics"
	"github.com/vasu-devs/Socratis/internal/model"
)

// EvaluationQueueKey is the Redis list holding pending evaluation jobs.
const EvaluationQueueKey = "socratis:queue:evaluations"

// pollTimeout bounds each blocking pop so shutdown is noticed promptly.
const pollTimeout = time.Second

// ErrQueueFull is returned when the in-memory queue cannot accept a job.
var ErrQueueFull = errors.New("evaluation queue is full")

// Queue carries evaluation jobs to the dispatcher.
type Queue interface {
	Enqueue(ctx context.Context, job model.EvaluationJob) error
	// Dequeue blocks until a job arrives or ctx is done.
	Dequeue(ctx context.Context) (model.EvaluationJob, error)
}

// MemoryQueue is a process-local buffered queue.
type MemoryQueue struct {
	jobs chan model.EvaluationJob
}

// NewMemoryQueue creates a queue holding up to size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{jobs: make(chan model.EvaluationJob, size)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job model.EvaluationJob) error {
	select {
	case q.jobs <- job:
		metrics.EvaluationQueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (model.EvaluationJob, error) {
	select {
	case job := <-q.jobs:
		metrics.EvaluationQueueDepth.Set(float64(len(q.jobs)))
		return job, nil
	case <-ctx.Done():
		return model.EvaluationJob{}, ctx.Err()
	}
}

// RedisQueue is a Redis list shared by every server process.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue uses EvaluationQueueKey on rdb.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: EvaluationQueueKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job model.EvaluationJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (model.EvaluationJob, error) {
	for {
		item, err := q.rdb.BLPop(ctx, pollTimeout, q.key).Result()
		if ctx.Err() != nil {
			return model.EvaluationJob{}, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return model.EvaluationJob{}, fmt.Errorf("pop job: %w", err)
		}
		if len(item) < 2 {
			continue
		}
		var job model.EvaluationJob
		if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
			slog.Error("invalid evaluation job payload", "payload", item[1], "error", err)
			continue
		}
		return job, nil
	}
}
