package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	cooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rt_rate_limit_cooldown_seconds",
		Help: "Length of the most recently recorded rate-limit cooldown",
	})

	rateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_rate_limit_hits_total",
		Help: "Total number of 429 responses observed",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rt_rate_limit_waits_total",
		Help: "Total number of times work was held back by a cooldown",
	})
)

// Tracker records cooldowns and gates new work on them. It is safe for
// concurrent use. A nil Redis client keeps state in process only.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local State
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

// GetState returns the current cooldown. With Redis configured the shared
// state is read; a Redis failure falls back to the local view.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	t.mu.Lock()
	local := t.local
	t.mu.Unlock()

	if t.redis == nil {
		return &local, nil
	}

	shared, err := t.readRedis(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable in Redis, using local state")
		return &local, nil
	}
	if shared.CooldownUntil.Before(local.CooldownUntil) {
		shared.CooldownUntil = local.CooldownUntil
	}
	return shared, nil
}

func (t *Tracker) readRedis(ctx context.Context) (*State, error) {
	until, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}

	hits, err := t.redis.Get(ctx, RedisKeyHits).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get hits: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &State{Hits: hits}
	if until > 0 {
		state.CooldownUntil = time.UnixMilli(until)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	return state, nil
}

// Observe inspects the outcome of an RT call and records a cooldown when it
// was a rate_limited failure. Other outcomes are ignored.
func (t *Tracker) Observe(ctx context.Context, err error) error {
	f, ok := client.AsFailure(err)
	if !ok || f.Kind != client.KindRateLimited {
		return nil
	}
	return t.Record(ctx, f.RetryAfter)
}

// Record starts or extends a cooldown of retryAfter (DefaultCooldown when
// zero, capped at MaxCooldown). An earlier deadline never shortens a later
// one already recorded.
func (t *Tracker) Record(ctx context.Context, retryAfter time.Duration) error {
	now := t.now()
	wait := cooldownFor(retryAfter)
	until := now.Add(wait)

	t.mu.Lock()
	if until.After(t.local.CooldownUntil) {
		t.local.CooldownUntil = until
	}
	t.local.Hits++
	t.local.LastUpdate = now
	t.mu.Unlock()

	rateLimitHitsTotal.Inc()
	cooldownSeconds.Set(wait.Seconds())

	t.logger.Warn().
		Dur("cooldown", wait).
		Time("until", until).
		Msg("RT rate limit hit, holding back new requests")

	if t.redis == nil {
		return nil
	}

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	// Keep the later deadline when another process recorded one.
	current, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get cooldown: %w", err)
	}

	pipe := t.redis.Pipeline()
	if until.UnixMilli() > current {
		pipe.Set(ctx, RedisKeyCooldownUntil, until.UnixMilli(), MaxCooldown)
	}
	pipe.Incr(ctx, RedisKeyHits)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Wait blocks until any active cooldown has passed or ctx ends. It returns
// the time spent waiting.
func (t *Tracker) Wait(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}
	wait := state.Remaining(t.now())
	if wait <= 0 {
		return 0, nil
	}

	rateLimitWaitsTotal.Inc()
	t.logger.Debug().Dur("wait", wait).Msg("Waiting for rate limit cooldown")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wait, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Reset clears the cooldown.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.local = State{}
	t.mu.Unlock()

	if t.redis == nil {
		return nil
	}
	if err := t.redis.Del(ctx, RedisKeyCooldownUntil, RedisKeyHits, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("clear rate limit state: %w", err)
	}
	return nil
}
