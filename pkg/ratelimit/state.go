// Package ratelimit tracks RT's 429 responses and holds back new work until
// the server's requested cooldown has passed.
//
// RT (or the proxy in front of it) answers 429 Too Many Requests with an
// optional Retry-After. The Tracker records the latest cooldown deadline,
// either in process or in Redis so that several gateway processes sharing
// one RT back off together.
package ratelimit

import (
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyCooldownUntil = "rt:rate_limit:cooldown_until"
	RedisKeyHits          = "rt:rate_limit:hits"
	RedisKeyLastUpdate    = "rt:rate_limit:last_update"
)

const (
	// DefaultCooldown applies when a 429 carries no Retry-After.
	DefaultCooldown = 5 * time.Second

	// MaxCooldown caps a single Retry-After so a bogus header cannot stall
	// the gateway indefinitely.
	MaxCooldown = 5 * time.Minute
)

// State is the current cooldown. It is shared across processes via Redis
// when a client is configured.
type State struct {
	// CooldownUntil is when new requests may start again. Zero means never
	// limited.
	CooldownUntil time.Time `json:"cooldown_until"`

	// Hits counts 429 responses observed.
	Hits int64 `json:"hits"`

	// LastUpdate is when the state last changed.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// CoolingDown reports whether new requests should wait at now.
func (s *State) CoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// Remaining returns how long to wait from now. It returns 0 once the
// cooldown has passed.
func (s *State) Remaining(now time.Time) time.Duration {
	d := s.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// cooldownFor clamps a server-requested wait.
func cooldownFor(retryAfter time.Duration) time.Duration {
	switch {
	case retryAfter <= 0:
		return DefaultCooldown
	case retryAfter > MaxCooldown:
		return MaxCooldown
	default:
		return retryAfter
	}
}
