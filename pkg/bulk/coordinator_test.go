package bulk

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/rt-gateway/internal/testutil"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*client.Gateway, *testutil.MockRT) {
	t.Helper()
	mock := testutil.NewMockRT()
	t.Cleanup(mock.Close)

	session, err := client.Open(client.SessionConfig{
		BaseURL:   mock.URL(),
		Token:     "secret",
		VerifyTLS: true,
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return client.NewGateway(session), mock
}

func seedTickets(mock *testutil.MockRT, n int) []client.Ref {
	ids := mock.SeedN("ticket", n, func(i int) map[string]any {
		return map[string]any{"Subject": fmt.Sprintf("ticket %d", i), "Status": "new"}
	})
	refs := make([]client.Ref, len(ids))
	for i, id := range ids {
		refs[i] = client.NewRef(client.TypeTicket, id)
	}
	return refs
}

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// collector records progress notifications.
type collector struct {
	mu     sync.Mutex
	events []Progress
}

func (c *collector) Report(_ context.Context, p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, p)
}

func TestCoordinator_PartialFailure(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 10)
	mock.Remove("ticket", refs[3].ID)
	mock.Remove("ticket", refs[6].ID)
	mock.SetDelay(20 * time.Millisecond)

	coord := NewCoordinator(gw, WithConcurrency(3), WithLogger(quietLogger()))
	progress := &collector{}

	out, err := coord.Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: UpdateFields(gw, map[string]any{"Status": "open"}),
	}, progress)
	require.NoError(t, err)

	assert.Equal(t, 10, out.Total)
	assert.Equal(t, 8, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	assert.Equal(t, 0, out.Skipped)
	assert.Len(t, out.Records, 10)
	assert.NotEmpty(t, out.RunID)

	for _, rec := range out.WithStatus(StatusFailed) {
		assert.Equal(t, client.KindNotFound, rec.Kind, "record %s", rec.Ref)
		assert.Contains(t, []client.Ref{refs[3], refs[6]}, rec.Ref)
	}

	require.Len(t, progress.events, 10)
	for i, p := range progress.events {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 10, p.Total)
		assert.True(t, p.TotalKnown)
	}

	assert.LessOrEqual(t, mock.MaxInFlight(), 3)

	ticket, ok := mock.Entity("ticket", refs[0].ID)
	require.True(t, ok)
	assert.Equal(t, "open", ticket["Status"])
}

func TestCoordinator_ConcurrencyDoesNotChangeOutcome(t *testing.T) {
	summarize := func(k int) map[client.Ref]Status {
		gw, mock := newTestGateway(t)
		refs := seedTickets(mock, 12)
		mock.Remove("ticket", refs[2].ID)
		mock.Remove("ticket", refs[9].ID)

		out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
			Targets:     refs,
			Mutation:    Delete(gw),
			Concurrency: k,
		}, nil)
		require.NoError(t, err)

		got := make(map[client.Ref]Status, len(out.Records))
		for _, rec := range out.Records {
			got[rec.Ref] = rec.Status
		}
		return got
	}

	assert.Equal(t, summarize(1), summarize(10))
}

func TestCoordinator_StopOnError(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 10)
	mock.Remove("ticket", refs[2].ID)

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:     refs,
		Mutation:    UpdateFields(gw, map[string]any{"Status": "open"}),
		Concurrency: 1,
		StopOnError: true,
	}, nil)
	require.NoError(t, err)

	assert.True(t, out.Stopped)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 7, out.Skipped)
	assert.Len(t, out.Records, 10)

	for _, ref := range refs[3:] {
		assert.Zero(t, mock.RequestCount(http.MethodGet, ref.Path()), "%s must not start", ref)
		assert.Zero(t, mock.RequestCount(http.MethodPut, ref.Path()), "%s must not start", ref)

		rec, ok := out.Lookup(ref)
		require.True(t, ok)
		assert.Equal(t, StatusSkipped, rec.Status)
		assert.Equal(t, ReasonStopped, rec.Reason)
	}
}

func TestCoordinator_StopOnErrorConcurrent(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 20)
	mock.Remove("ticket", refs[0].ID)

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:     refs,
		Mutation:    Delete(gw),
		Concurrency: 3,
		StopOnError: true,
	}, nil)
	require.NoError(t, err)

	assert.True(t, out.Stopped)
	assert.Equal(t, 20, out.Succeeded+out.Failed+out.Skipped)
	assert.Equal(t, 1, out.Failed)
	assert.Greater(t, out.Skipped, 0)
}

func TestCoordinator_Cancelled(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the first item is reported.
	reporter := ReporterFunc(func(_ context.Context, p Progress) {
		if p.Completed == 1 {
			cancel()
		}
	})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(ctx, Plan{
		Targets:     refs,
		Mutation:    Delete(gw),
		Concurrency: 1,
	}, reporter)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 5, out.Skipped)
	for _, rec := range out.WithStatus(StatusSkipped) {
		assert.Equal(t, ReasonCancelled, rec.Reason)
	}
}

func TestCoordinator_FilterTargets(t *testing.T) {
	gw, mock := newTestGateway(t)
	mock.SeedN("ticket", 12, func(i int) map[string]any {
		queue := "Support"
		if i%2 == 0 {
			queue = "General"
		}
		return map[string]any{"Queue": queue, "Status": "new"}
	})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Filter:   &client.Filter{Type: client.TypeTicket, Query: "Queue = 'General'", PageSize: 4},
		Mutation: Delete(gw),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, out.Total)
	assert.Equal(t, 6, out.Succeeded)
	for _, rec := range out.Records {
		ticket, ok := mock.Entity("ticket", rec.Ref.ID)
		require.True(t, ok)
		assert.Equal(t, "General", ticket["Queue"])
		assert.Equal(t, "deleted", ticket["Status"])
	}
}

func TestCoordinator_FilterMaxTargets(t *testing.T) {
	gw, mock := newTestGateway(t)
	seedTickets(mock, 30)

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Filter:     &client.Filter{Type: client.TypeTicket, PageSize: 10},
		Mutation:   Delete(gw),
		MaxTargets: 12,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 12, out.Total)
	assert.Equal(t, 12, out.Succeeded)
}

func TestCoordinator_FilterResolutionFails(t *testing.T) {
	gw, mock := newTestGateway(t)
	mock.SetResponse(http.MethodGet, "/tickets", testutil.MockResponse{StatusCode: http.StatusForbidden})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Filter:   &client.Filter{Type: client.TypeTicket},
		Mutation: Delete(gw),
	}, nil)

	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, client.IsKind(err, client.KindAuthorization))
}

func TestCoordinator_DedupesTargets(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 3)

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  []client.Ref{refs[0], refs[1], refs[0], refs[2], refs[1]},
		Mutation: Action(gw, "comment", "", map[string]any{"Content": "bulk note"}),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 3, out.Succeeded)
	assert.Len(t, mock.Actions(), 3)
}

func TestCoordinator_InvalidPlan(t *testing.T) {
	coord := NewCoordinator(nil, WithLogger(quietLogger()))
	noop := MutationFunc(func(context.Context, client.Ref) error { return nil })
	ref := client.NewRef(client.TypeTicket, 1)

	tests := []struct {
		name string
		plan Plan
	}{
		{"no mutation", Plan{Targets: []client.Ref{ref}}},
		{"targets and filter", Plan{Targets: []client.Ref{ref}, Filter: &client.Filter{Type: client.TypeTicket}, Mutation: noop}},
		{"negative concurrency", Plan{Targets: []client.Ref{ref}, Mutation: noop, Concurrency: -1}},
		{"filter without searcher", Plan{Filter: &client.Filter{Type: client.TypeTicket}, Mutation: noop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.Run(context.Background(), tt.plan, nil)
			assert.Error(t, err)
		})
	}
}

func TestCoordinator_EmptyPlan(t *testing.T) {
	progress := &collector{}
	out, err := NewCoordinator(nil, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Mutation: MutationFunc(func(context.Context, client.Ref) error { return nil }),
	}, progress)
	require.NoError(t, err)

	assert.Equal(t, 0, out.Total)
	assert.Empty(t, out.Records)
	assert.Empty(t, progress.events)
}

func TestCoordinator_GenericErrorKind(t *testing.T) {
	ref := client.NewRef(client.TypeTicket, 1)
	out, err := NewCoordinator(nil, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets: []client.Ref{ref},
		Mutation: MutationFunc(func(context.Context, client.Ref) error {
			return fmt.Errorf("boom")
		}),
	}, nil)
	require.NoError(t, err)

	rec, ok := out.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, client.KindGeneric, rec.Kind)
	assert.Equal(t, "boom", rec.Message())
}

func TestCoordinator_RetriesRateLimited(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 1)
	mock.SetResponse(http.MethodDelete, refs[0].Path(), testutil.MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "0"},
		Times:      1,
	})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: Delete(gw),
		Retry:    &RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond},
	}, nil)
	require.NoError(t, err)

	rec, ok := out.Lookup(refs[0])
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 2, mock.RequestCount(http.MethodDelete, refs[0].Path()))
}

func TestCoordinator_NoRetryByDefault(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 1)
	mock.SetResponse(http.MethodDelete, refs[0].Path(), testutil.MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Times:      1,
	})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: Delete(gw),
	}, nil)
	require.NoError(t, err)

	rec, _ := out.Lookup(refs[0])
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, client.KindRateLimited, rec.Kind)
	assert.Equal(t, 1, rec.Attempts)
}

func TestUpdateFields_MissingETag(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 2)
	mock.SetResponse(http.MethodGet, refs[0].Path(), testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"id": %s, "Status": "new"}`, refs[0].ID),
	})

	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: UpdateFields(gw, map[string]any{"Status": "open"}),
	}, nil)
	require.NoError(t, err)

	rec, ok := out.Lookup(refs[0])
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, client.KindValidation, rec.Kind)
	assert.ErrorContains(t, rec.Err, "no ETag")
	assert.Equal(t, 0, mock.RequestCount(http.MethodPut, refs[0].Path()))

	rec, _ = out.Lookup(refs[1])
	assert.Equal(t, StatusSucceeded, rec.Status)
}

func TestCoordinator_WaitsForCooldown(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 2)

	tracker := ratelimit.NewTracker(nil, quietLogger())
	require.NoError(t, tracker.Record(context.Background(), 150*time.Millisecond))

	start := time.Now()
	out, err := NewCoordinator(gw, WithTracker(tracker), WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: Delete(gw),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestCoordinator_StopOnErrorDuringCooldown(t *testing.T) {
	refs := []client.Ref{
		client.NewRef(client.TypeTicket, 1),
		client.NewRef(client.TypeTicket, 2),
		client.NewRef(client.TypeTicket, 3),
	}
	tracker := ratelimit.NewTracker(nil, quietLogger())

	var mu sync.Mutex
	applied := make(map[client.Ref]bool)
	started := make(chan struct{})

	mutation := MutationFunc(func(ctx context.Context, ref client.Ref) error {
		mu.Lock()
		applied[ref] = true
		mu.Unlock()

		switch ref {
		case refs[0]:
			close(started)
			time.Sleep(100 * time.Millisecond)
			return &client.Failure{Kind: client.KindNotFound, Ref: &ref, Message: "gone"}
		case refs[1]:
			<-started
			return tracker.Record(ctx, 300*time.Millisecond)
		}
		return nil
	})

	out, err := NewCoordinator(nil, WithTracker(tracker), WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:     refs,
		Mutation:    mutation,
		Concurrency: 2,
		StopOnError: true,
	}, nil)
	require.NoError(t, err)

	assert.True(t, out.Stopped)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Succeeded)

	rec, ok := out.Lookup(refs[2])
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, rec.Status)
	assert.Equal(t, ReasonStopped, rec.Reason)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, applied[refs[2]], "mutation ran after the run stopped")
}

func TestCoordinator_FeedsTracker(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 1)
	mock.SetResponse(http.MethodDelete, refs[0].Path(), testutil.MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "30"},
	})

	tracker := ratelimit.NewTracker(nil, quietLogger())
	_, err := NewCoordinator(gw, WithTracker(tracker), WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: Delete(gw),
	}, nil)
	require.NoError(t, err)

	state, err := tracker.GetState(context.Background())
	require.NoError(t, err)
	assert.True(t, state.CoolingDown(time.Now()))
	assert.EqualValues(t, 1, state.Hits)
}

func TestChannelReporter(t *testing.T) {
	gw, mock := newTestGateway(t)
	refs := seedTickets(mock, 5)

	ch := make(chan Progress, len(refs))
	out, err := NewCoordinator(gw, WithLogger(quietLogger())).Run(context.Background(), Plan{
		Targets:  refs,
		Mutation: Delete(gw),
	}, MultiReporter(ChannelReporter(ch), LogReporter(quietLogger()), nil))
	require.NoError(t, err)
	close(ch)

	var completed []int
	for p := range ch {
		completed = append(completed, p.Completed)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, completed)
	assert.Equal(t, 5, out.Succeeded)
}

func TestChannelReporter_UnblocksOnCancel(t *testing.T) {
	ch := make(chan Progress)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		ChannelReporter(ch).Report(ctx, Progress{Completed: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a cancelled context")
	}
}
