package memory

import (
	"context"
	"testing"
	"time"

	"mane_reservas/internal/domain"
)

func TestCache_RoundTripAndExpiry(t *testing.T) {
	c := New()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", domain.Snapshot{ID: "r-1", People: 2}, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out domain.Snapshot
	if ok, err := c.Get(ctx, "k", &out); !ok || err != nil || out.ID != "r-1" {
		t.Fatalf("expected hit, got ok=%v err=%v out=%+v", ok, err, out)
	}

	now = now.Add(11 * time.Second)
	if ok, _ := c.Get(ctx, "k", &out); ok {
		t.Fatalf("expected expiry")
	}
}

func TestCache_DelAndNoTTL(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.Set(ctx, "k", domain.Snapshot{ID: "r-2"}, 0)

	var out domain.Snapshot
	if ok, _ := c.Get(ctx, "k", &out); !ok {
		t.Fatalf("expected hit for value without ttl")
	}
	_ = c.Del(ctx, "k")
	if ok, _ := c.Get(ctx, "k", &out); ok {
		t.Fatalf("expected miss after delete")
	}
}
