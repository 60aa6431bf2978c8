package bulk

import (
	"context"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures per-target retries. Only rate_limited failures are
// retried: bulk mutations are not idempotent, so a network fault or a 5xx
// may already have been applied.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the policy used when a plan opts in without
// tuning it.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

func (p *RetryPolicy) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(exp, uint64(attempts-1))
}

// retryAfterBackOff waits at least as long as the server last asked.
type retryAfterBackOff struct {
	backoff.BackOff
	floor time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.floor > next {
		return b.floor
	}
	return next
}

// retryable reports whether err may be retried under any policy.
func retryable(err error) bool {
	return client.IsKind(err, client.KindRateLimited)
}

// attempt runs op under policy and returns the final error and the number
// of attempts. A nil policy runs op once.
func attempt(ctx context.Context, policy *RetryPolicy, op func() error) (int, error) {
	if policy == nil {
		return 1, op()
	}

	attempts := 0
	// The context wrapper must be outermost so RetryNotify sees it.
	b := &retryAfterBackOff{BackOff: policy.newBackOff()}
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if f, ok := client.AsFailure(err); ok {
			b.floor = f.RetryAfter
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(wait.Seconds())
	})

	if retryable(err) {
		retryExhaustedTotal.Inc()
	}
	return attempts, err
}
