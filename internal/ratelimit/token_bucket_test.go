package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, capacity, window, "test:ratelimit")
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	bucket, now := newTestBucket(t, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := bucket.Allow(ctx, "chat-1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}

	decision, err := bucket.Allow(ctx, "chat-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected third request to be rejected")
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > time.Second {
		t.Fatalf("unexpected retry-after %s", decision.RetryAfter)
	}

	other, err := bucket.Allow(ctx, "chat-2")
	if err != nil || !other.Allowed {
		t.Fatalf("expected independent subject to be allowed, got %+v err=%v", other, err)
	}

	*now = now.Add(600 * time.Millisecond)
	decision, err = bucket.Allow(ctx, "chat-1")
	if err != nil {
		t.Fatalf("allow after refill: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected a refilled token after 600ms")
	}
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	if _, err := NewRedisTokenBucket(nil, 1, time.Second, ""); err == nil {
		t.Fatal("expected nil client error")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	if _, err := NewRedisTokenBucket(client, 0, time.Second, ""); err == nil {
		t.Fatal("expected capacity error")
	}
	if _, err := NewRedisTokenBucket(client, 1, 0, ""); err == nil {
		t.Fatal("expected window error")
	}
}
