package infra

import (
	"context"
	"fmt"
	"testing"
	"time"

	"guardian-gateway/middleware/ratelimit/domain"
)

func TestRedisViolationLedger_Increments(t *testing.T) {
	client := testRedisClient(t)

	ledger, err := NewRedisViolationLedger(client, WithLedgerPrefix("ratelimit:test:violations"))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	key := domain.Key(fmt.Sprintf("k%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = client.Del(context.Background(), "ratelimit:test:violations:"+string(key)).Err()
	})

	for want := 1; want <= 3; want++ {
		got, err := ledger.RecordViolation(context.Background(), key)
		if err != nil {
			t.Fatalf("record %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected count=%d, got %d", want, got)
		}
	}

	ttl, err := client.TTL(context.Background(), "ratelimit:test:violations:"+string(key)).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected rolling ttl <= 1h, got %s", ttl)
	}
}

func TestRedisBlockRegistry_BlockIsNotExtended(t *testing.T) {
	client := testRedisClient(t)

	registry, err := NewRedisBlockRegistry(client, WithRegistryPrefix("ratelimit:test:blocked"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	key := domain.Key(fmt.Sprintf("k%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = client.Del(context.Background(), "ratelimit:test:blocked:"+string(key)).Err()
	})

	blocked, _, err := registry.IsBlocked(context.Background(), key)
	if err != nil {
		t.Fatalf("isblocked: %v", err)
	}
	if blocked {
		t.Fatalf("expected not blocked initially")
	}

	if err := registry.Block(context.Background(), key, 2*time.Second); err != nil {
		t.Fatalf("block: %v", err)
	}

	blocked, rem, err := registry.IsBlocked(context.Background(), key)
	if err != nil {
		t.Fatalf("isblocked: %v", err)
	}
	if !blocked {
		t.Fatalf("expected blocked")
	}
	if rem <= 0 || rem > 2*time.Second {
		t.Fatalf("expected remaining in (0, 2s], got %s", rem)
	}

	// SET NX: segundo Block não estende o bloqueio ativo
	if err := registry.Block(context.Background(), key, time.Hour); err != nil {
		t.Fatalf("second block: %v", err)
	}
	_, rem, err = registry.IsBlocked(context.Background(), key)
	if err != nil {
		t.Fatalf("isblocked: %v", err)
	}
	if rem > 2*time.Second {
		t.Fatalf("expected ttl unchanged (<=2s), got %s", rem)
	}
}

func TestRedisAlertSink_PublishesBoundedList(t *testing.T) {
	client := testRedisClient(t)

	listKey := fmt.Sprintf("security:alerts:test:%d", time.Now().UnixNano())
	sink, err := NewRedisAlertSink(client, WithAlertKey(listKey), WithAlertMaxLen(3), WithAlertRate(1000, 1000))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	t.Cleanup(func() { _ = client.Del(context.Background(), listKey).Err() })

	for i := 0; i < 5; i++ {
		err := sink.Notify(context.Background(), domain.Alert{
			Type:       "rate_limit_block",
			Key:        domain.Key(fmt.Sprintf("k%d", i)),
			Violations: 5,
			At:         time.Now(),
			Severity:   "high",
		})
		if err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}

	n, err := client.LLen(context.Background(), listKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected list trimmed to 3, got %d", n)
	}
}
