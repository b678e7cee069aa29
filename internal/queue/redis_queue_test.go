package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueueWithClient(client, visibility)
}

func TestDequeueLeasesInOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	for _, id := range []string{"/jobs/a", "/jobs/b"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}

	first, err := q.DequeueWithLease(ctx)
	if err != nil || first != "/jobs/a" {
		t.Fatalf("expected /jobs/a, got %q err=%v", first, err)
	}
	second, _ := q.DequeueWithLease(ctx)
	if second != "/jobs/b" {
		t.Fatalf("expected /jobs/b, got %q", second)
	}
	empty, err := q.DequeueWithLease(ctx)
	if err != nil || empty != "" {
		t.Fatalf("expected empty dequeue, got %q err=%v", empty, err)
	}

	// Leases are still live, nothing to reclaim yet.
	if ids, _ := q.RequeueExpired(ctx, time.Now(), 10); len(ids) != 0 {
		t.Fatalf("unexpected reclaimed ids %v", ids)
	}
	if err := q.Ack(ctx, first); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestExpiredLeaseIsRequeued(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "/jobs/a"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "/jobs/a" {
		t.Fatalf("expected /jobs/a reclaimed, got %v", ids)
	}
	again, _ := q.DequeueWithLease(ctx)
	if again != "/jobs/a" {
		t.Fatalf("expected reclaimed job to be dequeued again, got %q", again)
	}
}

func TestAckedJobIsNotRequeued(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	_ = q.Enqueue(ctx, "/jobs/a")
	id, _ := q.DequeueWithLease(ctx)
	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ids, _ := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10); len(ids) != 0 {
		t.Fatalf("acked job reclaimed: %v", ids)
	}
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	if err := q.Enqueue(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}
