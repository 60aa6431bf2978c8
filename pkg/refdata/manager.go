package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStaleGrace is how long a stale entry is kept for revalidation.
const DefaultStaleGrace = time.Hour

var (
	// ErrMiss indicates the key is not stored.
	ErrMiss = errors.New("refdata: cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("refdata: invalid entry")
)

// Manager stores entries in Redis.
type Manager struct {
	redis *redis.Client
	grace time.Duration
	now   func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStaleGrace sets how long entries outlive their freshness.
func WithStaleGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.grace = d
		}
	}
}

// NewManager creates a manager. It panics on a nil client.
func NewManager(redisClient *redis.Client, opts ...ManagerOption) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{
		redis: redisClient,
		grace: DefaultStaleGrace,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the stored entry, fresh or stale. Callers check IsFresh.
// Returns ErrMiss when nothing is stored.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set stores entry until its expiry plus the stale grace. Entries with
// nothing left of either are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("entry cannot be nil")
	}

	ttl := entry.TTL(m.now()) + m.grace
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Touch marks an entry as confirmed at now and fresh until expires, after
// RT answered 304 Not Modified.
func (m *Manager) Touch(ctx context.Context, key Key, expires time.Time) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	entry.Expires = expires
	entry.FetchedAt = m.now()
	return m.Set(ctx, key, entry)
}
