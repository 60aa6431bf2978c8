package pagination

import (
	"context"
	"errors"
	"iter"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rt_cursor_pages_total",
	Help: "Search pages fetched by pagination cursors",
})

// Done is returned by Next once the result set is exhausted.
var Done = errors.New("pagination: no more items")

// PageSearcher fetches one 1-based page. *client.Gateway implements it.
type PageSearcher interface {
	SearchPage(ctx context.Context, filter client.Filter, page int) (client.Page, error)
}

// Config bounds a cursor.
type Config struct {
	// MaxItems stops the cursor after that many items; 0 means no limit.
	MaxItems int

	// StartPage is the first page fetched; values below 1 mean 1.
	StartPage int
}

// State is a cursor's position. It can be stored and handed to Resume.
type State struct {
	Filter     client.Filter     `json:"filter"`
	NextPage   int               `json:"next_page"`
	TotalKnown bool              `json:"total_known"`
	Total      int               `json:"total"`
	Exhausted  bool              `json:"exhausted"`
	Yielded    int               `json:"yielded"`
	Buffered   []client.Snapshot `json:"buffered,omitempty"`
}

// Cursor lazily walks the pages of one search. A page is requested only
// when the previous one has been consumed.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	searcher PageSearcher
	cfg      Config
	state    State
	err      error
	pages    int
	logger   zerolog.Logger
}

// New creates a cursor over filter. Nothing is fetched until Next.
func New(searcher PageSearcher, filter client.Filter, cfg Config) *Cursor {
	start := cfg.StartPage
	if start < 1 {
		start = 1
	}
	return Resume(searcher, State{Filter: filter, NextPage: start}, cfg)
}

// Resume continues from a saved state.
func Resume(searcher PageSearcher, state State, cfg Config) *Cursor {
	if state.NextPage < 1 {
		state.NextPage = 1
	}
	state.Buffered = append([]client.Snapshot(nil), state.Buffered...)
	return &Cursor{
		searcher: searcher,
		cfg:      cfg,
		state:    state,
		logger:   log.With().Str("component", "cursor").Logger(),
	}
}

// Next returns the next item, Done at the end, or the error of the page
// fetch that failed. A failure is sticky: every later call returns it.
func (c *Cursor) Next(ctx context.Context) (client.Snapshot, error) {
	if c.err != nil {
		return client.Snapshot{}, c.err
	}
	if c.cfg.MaxItems > 0 && c.state.Yielded >= c.cfg.MaxItems {
		c.state.Exhausted = true
		c.state.Buffered = nil
		return client.Snapshot{}, Done
	}

	for len(c.state.Buffered) == 0 {
		if c.state.Exhausted {
			return client.Snapshot{}, Done
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return client.Snapshot{}, err
		}
	}

	item := c.state.Buffered[0]
	c.state.Buffered = c.state.Buffered[1:]
	c.state.Yielded++
	return item, nil
}

func (c *Cursor) fetch(ctx context.Context) error {
	page, err := c.searcher.SearchPage(ctx, c.state.Filter, c.state.NextPage)
	if err != nil {
		c.logger.Debug().Err(err).Int("page", c.state.NextPage).Msg("Page fetch failed")
		return err
	}
	c.pages++
	pagesFetched.Inc()

	if page.TotalKnown {
		c.state.Total = page.Total
		c.state.TotalKnown = true
	}
	c.state.NextPage++
	c.state.Buffered = page.Items

	// An empty page ends the walk even if RT claims there is more.
	if !page.HasMore || len(page.Items) == 0 {
		c.state.Exhausted = true
	}

	c.logger.Debug().
		Int("page", page.Page).
		Int("items", len(page.Items)).
		Bool("has_more", page.HasMore).
		Msg("Fetched page")
	return nil
}

// All adapts the cursor to a range-over-func iterator. Iteration stops
// after the first error, which is yielded once.
func (c *Cursor) All(ctx context.Context) iter.Seq2[client.Snapshot, error] {
	return func(yield func(client.Snapshot, error) bool) {
		for {
			item, err := c.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				yield(client.Snapshot{}, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the cursor. On failure it returns the items yielded so far
// together with the error.
func (c *Cursor) Collect(ctx context.Context) ([]client.Snapshot, error) {
	var items []client.Snapshot
	for item, err := range c.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// State returns a copy of the cursor position.
func (c *Cursor) State() State {
	s := c.state
	s.Buffered = append([]client.Snapshot(nil), c.state.Buffered...)
	return s
}

// Total returns the result-set size when RT reported one.
func (c *Cursor) Total() (int, bool) {
	return c.state.Total, c.state.TotalKnown
}

// PagesFetched returns how many pages this cursor requested.
func (c *Cursor) PagesFetched() int {
	return c.pages
}

// Err returns the sticky failure, if any.
func (c *Cursor) Err() error {
	return c.err
}
