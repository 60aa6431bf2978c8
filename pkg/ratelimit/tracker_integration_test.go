//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/rt-gateway/internal/testutil"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/rs/zerolog"
)

func TestTracker_Integration_EmptyState(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.CoolingDown(time.Now()) {
		t.Error("empty Redis should mean no cooldown")
	}
	if state.Hits != 0 {
		t.Errorf("Hits = %d, want 0", state.Hits)
	}
}

func TestTracker_Integration_SharedCooldown(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	first := NewTracker(redisClient, logger)
	second := NewTracker(redisClient, logger)
	ctx := context.Background()

	err := first.Observe(ctx, &client.Failure{Kind: client.KindRateLimited, StatusCode: 429, RetryAfter: 30 * time.Second})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.CoolingDown(time.Now()) {
		t.Fatal("second tracker should see the cooldown recorded by the first")
	}

	remaining := state.Remaining(time.Now())
	if remaining < 25*time.Second || remaining > 30*time.Second {
		t.Errorf("Remaining() = %v, want about 30s", remaining)
	}
	if state.Hits != 1 {
		t.Errorf("Hits = %d, want 1", state.Hits)
	}
	if state.IsStale(time.Minute) {
		t.Error("fresh state reported stale")
	}
}

func TestTracker_Integration_KeepsLaterDeadline(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	a := NewTracker(redisClient, logger)
	b := NewTracker(redisClient, logger)
	ctx := context.Background()

	if err := a.Record(ctx, time.Minute); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := b.Record(ctx, time.Second); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	state, err := b.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining(time.Now()) < 50*time.Second {
		t.Errorf("Remaining() = %v, shorter Retry-After must not cut the shared cooldown", state.Remaining(time.Now()))
	}
	if state.Hits != 2 {
		t.Errorf("Hits = %d, want 2", state.Hits)
	}
}

func TestTracker_Integration_WaitAndReset(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	if err := tracker.Record(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	start := time.Now()
	if _, err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Errorf("Wait() did not block for the cooldown")
	}

	if err := tracker.Record(ctx, time.Minute); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := tracker.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.CoolingDown(time.Now()) {
		t.Error("cooldown should be cleared after Reset()")
	}
}
