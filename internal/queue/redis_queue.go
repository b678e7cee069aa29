package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recognition-orchestrator/internal/config"
)

// RedisQueue hands submitted recognition jobs to poll workers. A dequeued job
// is leased in an in-flight set until it is acked or its lease expires.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "recognition:ready",
		inflightKey:   "recognition:inflight",
		visibilityTTL: visibility,
	}
}

func (q *RedisQueue) Close() error { return q.client.Close() }

// Enqueue appends a request id to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, requestID string) error {
	if requestID == "" {
		return fmt.Errorf("enqueue: empty request id")
	}
	return q.client.RPush(ctx, q.readyKey, requestID).Err()
}

// DequeueWithLease pops the oldest ready job and places it in flight with a
// visibility deadline. It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	requestID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return requestID, nil
}

// Ack removes a job from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, requestID string) error {
	return q.client.ZRem(ctx, q.inflightKey, requestID).Err()
}

// RequeueExpired moves jobs whose lease ran out back to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadyDepth returns the number of jobs waiting for a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
