package bulk

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

// DefaultMaxTargets bounds how many entities a filter-driven plan resolves.
const DefaultMaxTargets = 1000

// Status is the final state of one target.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Skip reasons.
const (
	ReasonStopped   = "stopped after earlier failure"
	ReasonCancelled = "cancelled"
)

// Plan describes one bulk run. Set exactly one of Targets and Filter.
type Plan struct {
	// Targets lists the entities to mutate. Duplicates are applied once.
	Targets []client.Ref

	// Filter selects targets by search instead; it is drained before any
	// mutation starts.
	Filter *client.Filter

	Mutation Mutation

	// Concurrency overrides the coordinator's limit when positive.
	Concurrency int

	// StopOnError skips every target not yet started once one has failed.
	// Targets already in flight still finish.
	StopOnError bool

	// MaxTargets bounds filter resolution; 0 means DefaultMaxTargets.
	MaxTargets int

	// Retry enables per-target retries of rate-limited failures. Nil means
	// one attempt.
	Retry *RetryPolicy
}

func (p Plan) validate() error {
	if p.Mutation == nil {
		return errors.New("plan has no mutation")
	}
	if p.Filter != nil && len(p.Targets) > 0 {
		return errors.New("plan sets both targets and filter")
	}
	if p.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0, got %d", p.Concurrency)
	}
	if p.MaxTargets < 0 {
		return fmt.Errorf("max targets must be >= 0, got %d", p.MaxTargets)
	}
	return nil
}

// Record is the outcome for one target.
type Record struct {
	Ref    client.Ref `json:"ref"`
	Status Status     `json:"status"`

	// Kind is set for failed records.
	Kind client.Kind `json:"kind,omitempty"`
	Err  error       `json:"-"`

	// Reason explains skipped records.
	Reason string `json:"reason,omitempty"`

	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Message returns the error text, if any.
func (r Record) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Outcome aggregates a run. Records are in completion order and every
// resolved target appears exactly once.
type Outcome struct {
	RunID     string        `json:"run_id"`
	Records   []Record      `json:"records"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Stopped   bool          `json:"stopped"`
	Duration  time.Duration `json:"duration"`
}

func (o *Outcome) add(rec Record) {
	o.Records = append(o.Records, rec)
	switch rec.Status {
	case StatusSucceeded:
		o.Succeeded++
	case StatusFailed:
		o.Failed++
	case StatusSkipped:
		o.Skipped++
	}
}

// Lookup returns the record for ref.
func (o *Outcome) Lookup(ref client.Ref) (Record, bool) {
	for _, rec := range o.Records {
		if rec.Ref == ref {
			return rec, true
		}
	}
	return Record{}, false
}

// WithStatus returns the records with the given status.
func (o *Outcome) WithStatus(s Status) []Record {
	var out []Record
	for _, rec := range o.Records {
		if rec.Status == s {
			out = append(out, rec)
		}
	}
	return out
}

// Progress is sent once per finished record.
type Progress struct {
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	TotalKnown bool   `json:"total_known"`
	Record     Record `json:"record"`
}
