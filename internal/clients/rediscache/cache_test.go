package rediscache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	Marker string  `json:"marker"`
	Value  float64 `json:"value"`
}

func TestLocalCacheRoundTrip(t *testing.T) {
	c := NewLocal()
	ctx := context.Background()

	var miss payload
	hit, err := c.GetJSON(ctx, "k", &miss)
	if err != nil || hit {
		t.Fatalf("empty cache: hit=%v err=%v", hit, err)
	}

	if err := c.SetJSON(ctx, "k", payload{Marker: "ldl", Value: 108}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got payload
	hit, err = c.GetJSON(ctx, "k", &got)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Marker != "ldl" || got.Value != 108 {
		t.Fatalf("got %+v", got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	hit, _ = c.GetJSON(ctx, "k", &got)
	if hit {
		t.Fatalf("deleted key should miss")
	}
}

func TestLocalCacheTTLExpiry(t *testing.T) {
	c := NewLocal()
	ctx := context.Background()

	if err := c.SetJSON(ctx, "k", payload{Marker: "glucose"}, time.Nanosecond); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if hit {
		t.Fatalf("expired entry should miss")
	}
}
