// Package bulk applies one mutation to many RT entities with bounded
// concurrency.
//
// A failed target never aborts the run: each target ends as exactly one
// Record (succeeded, failed or skipped) and the Outcome holds them all.
// Progress is reported once per record, one notification at a time.
//
// Usage:
//
//	coord := bulk.NewCoordinator(gw, bulk.WithConcurrency(5))
//	out, err := coord.Run(ctx, bulk.Plan{
//		Filter:   &client.Filter{Type: client.TypeTicket, Query: "Queue = 'General'"},
//		Mutation: bulk.UpdateFields(gw, map[string]any{"Status": "resolved"}),
//	}, bulk.LogReporter(logger))
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/pagination"
	"github.com/Sternrassler/rt-gateway/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of targets applied at once.
const DefaultConcurrency = 5

// Coordinator runs bulk plans. It is safe for concurrent use; runs share
// nothing but the searcher and the tracker.
type Coordinator struct {
	searcher    pagination.PageSearcher
	concurrency int
	tracker     *ratelimit.Tracker
	logger      zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency sets the default in-flight limit. Values below 1 are ignored.
func WithConcurrency(k int) Option {
	return func(c *Coordinator) {
		if k > 0 {
			c.concurrency = k
		}
	}
}

// WithTracker makes every target wait out a shared rate-limit cooldown
// before it starts, and feeds rate-limited failures back into it.
func WithTracker(t *ratelimit.Tracker) Option {
	return func(c *Coordinator) {
		c.tracker = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator. searcher resolves filter-based plans
// and may be nil when only explicit targets are used.
func NewCoordinator(searcher pagination.PageSearcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		searcher:    searcher,
		concurrency: DefaultConcurrency,
		logger:      log.With().Str("component", "bulk").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run resolves the plan's targets and applies its mutation to each. The
// returned error is non-nil only when the plan is invalid or its targets
// could not be resolved; per-target failures live in the Outcome.
func (c *Coordinator) Run(ctx context.Context, plan Plan, reporter Reporter) (*Outcome, error) {
	if err := plan.validate(); err != nil {
		return nil, fmt.Errorf("invalid bulk plan: %w", err)
	}

	start := time.Now()
	targets, err := c.resolve(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("resolve bulk targets: %w", err)
	}

	limit := c.concurrency
	if plan.Concurrency > 0 {
		limit = plan.Concurrency
	}

	r := &run{
		plan:     plan,
		reporter: reporter,
		out: &Outcome{
			RunID:   uuid.NewString(),
			Total:   len(targets),
			Records: make([]Record, 0, len(targets)),
		},
	}
	runsTotal.Inc()

	logger := c.logger.With().Str("run_id", r.out.RunID).Logger()
	logger.Info().
		Int("targets", len(targets)).
		Int("concurrency", limit).
		Bool("stop_on_error", plan.StopOnError).
		Msg("Bulk run started")

	// No derived context: a failing item must not cancel its siblings.
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, ref := range targets {
		g.Go(func() error {
			c.apply(ctx, r, ref)
			return nil
		})
	}
	_ = g.Wait()

	r.out.Duration = time.Since(start)
	logger.Info().
		Int("succeeded", r.out.Succeeded).
		Int("failed", r.out.Failed).
		Int("skipped", r.out.Skipped).
		Bool("stopped", r.out.Stopped).
		Dur("duration", r.out.Duration).
		Msg("Bulk run finished")

	return r.out, nil
}

// resolve returns the deduplicated target list.
func (c *Coordinator) resolve(ctx context.Context, plan Plan) ([]client.Ref, error) {
	if plan.Filter == nil {
		return dedupe(plan.Targets), nil
	}
	if c.searcher == nil {
		return nil, errors.New("filter plan needs a searcher")
	}

	maxTargets := plan.MaxTargets
	if maxTargets == 0 {
		maxTargets = DefaultMaxTargets
	}

	cur := pagination.New(c.searcher, *plan.Filter, pagination.Config{MaxItems: maxTargets})
	refs := make([]client.Ref, 0)
	for snap, err := range cur.All(ctx) {
		if err != nil {
			return nil, err
		}
		refs = append(refs, snap.Ref)
	}
	if total, known := cur.Total(); known && total > maxTargets {
		c.logger.Warn().
			Int("total", total).
			Int("max_targets", maxTargets).
			Msg("Bulk filter matched more entities than allowed, truncating")
	}
	return dedupe(refs), nil
}

func (c *Coordinator) apply(ctx context.Context, r *run, ref client.Ref) {
	if reason := r.skipReason(ctx); reason != "" {
		r.finish(ctx, Record{Ref: ref, Status: StatusSkipped, Reason: reason})
		return
	}

	if c.tracker != nil {
		if _, err := c.tracker.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				r.finish(ctx, Record{Ref: ref, Status: StatusSkipped, Reason: ReasonCancelled})
				return
			}
			c.logger.Warn().Err(err).Msg("Rate limit state unavailable, continuing")
		}
		// Another item may have failed, or the run ended, during the wait.
		if reason := r.skipReason(ctx); reason != "" {
			r.finish(ctx, Record{Ref: ref, Status: StatusSkipped, Reason: reason})
			return
		}
	}

	inFlight.Inc()
	start := time.Now()
	attempts, err := attempt(ctx, r.plan.Retry, func() error {
		err := r.plan.Mutation.Apply(ctx, ref)
		if err != nil && c.tracker != nil {
			if terr := c.tracker.Observe(ctx, err); terr != nil {
				c.logger.Warn().Err(terr).Msg("Failed to record rate limit")
			}
		}
		return err
	})
	inFlight.Dec()

	rec := Record{Ref: ref, Attempts: attempts, Duration: time.Since(start)}
	switch {
	case err == nil:
		rec.Status = StatusSucceeded
	case cancelled(ctx, err):
		rec.Status = StatusSkipped
		rec.Reason = ReasonCancelled
		rec.Err = err
	default:
		rec.Status = StatusFailed
		rec.Err = err
		rec.Kind = client.KindGeneric
		if f, ok := client.AsFailure(err); ok {
			rec.Kind = f.Kind
		}
	}
	r.finish(ctx, rec)
}

// cancelled reports whether err stems from the run's own context ending.
func cancelled(ctx context.Context, err error) bool {
	if client.IsCancelled(err) {
		return true
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		return true
	}
	return false
}

func dedupe(refs []client.Ref) []client.Ref {
	seen := make(map[client.Ref]struct{}, len(refs))
	out := make([]client.Ref, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// run is the mutable state of one Run call.
type run struct {
	plan     Plan
	reporter Reporter

	// reportMu serializes notifications; mu guards out and stopped.
	reportMu sync.Mutex
	mu       sync.Mutex
	out      *Outcome
	stopped  bool
}

func (r *run) skipReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ReasonStopped
	}
	return ""
}

func (r *run) finish(ctx context.Context, rec Record) {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()

	r.mu.Lock()
	r.out.add(rec)
	if rec.Status == StatusFailed && r.plan.StopOnError {
		r.stopped = true
		r.out.Stopped = true
	}
	p := Progress{
		Completed:  len(r.out.Records),
		Total:      r.out.Total,
		TotalKnown: true,
		Record:     rec,
	}
	r.mu.Unlock()

	itemsTotal.WithLabelValues(string(rec.Status)).Inc()
	if r.reporter != nil {
		r.reporter.Report(ctx, p)
	}
}
