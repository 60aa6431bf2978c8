package catalog

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Sternrassler/rt-gateway/internal/testutil"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) record(ev Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func seedTickets(mock *testutil.MockRT, n int, queue string) []string {
	return mock.SeedN("ticket", n, func(i int) map[string]any {
		return map[string]any{"Subject": fmt.Sprintf("ticket %d", i), "Status": "new", "Queue": queue}
	})
}

func TestBulkUpdate_ExplicitIDs(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ids := seedTickets(mock, 5, "General")
	mock.Remove("ticket", ids[2])
	progress := &progressLog{}

	res, err := reg.Invoke(context.Background(), "bulk_update", map[string]any{
		"object_type": "ticket",
		"object_ids":  ids,
		"updates":     map[string]any{"Status": "resolved"},
		"concurrency": 2,
	}, WithProgress(progress.record))
	require.NoError(t, err)

	out := res.(*BulkUpdateResult)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, 5, out.Total)
	assert.Equal(t, 4, out.SuccessCount)
	assert.Equal(t, 1, out.FailedCount)
	assert.Zero(t, out.SkippedCount)
	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[3], ids[4]}, out.Succeeded)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, ids[2], out.Failed[0].ID)
	assert.Equal(t, client.KindNotFound, out.Failed[0].Kind)

	require.Len(t, progress.events, 5)
	for i, ev := range progress.events {
		assert.Equal(t, i+1, ev.Done)
		assert.Equal(t, 5, ev.Total)
	}

	for _, id := range []string{ids[0], ids[4]} {
		stored, _ := mock.Entity("ticket", id)
		assert.Equal(t, "resolved", stored["Status"])
	}
}

func TestBulkUpdate_Query(t *testing.T) {
	reg, mock := newTestRegistry(t)
	seedTickets(mock, 4, "General")
	others := seedTickets(mock, 3, "Support")

	res, err := reg.Invoke(context.Background(), "bulk_update", map[string]any{
		"object_type": "tickets",
		"query":       "Queue = 'General'",
		"updates":     map[string]any{"Status": "open"},
	})
	require.NoError(t, err)

	out := res.(*BulkUpdateResult)
	assert.Equal(t, 4, out.SuccessCount)
	for _, id := range others {
		stored, _ := mock.Entity("ticket", id)
		assert.Equal(t, "new", stored["Status"], "ticket %s is outside the query", id)
	}
}

func TestBulkUpdate_StopOnError(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ids := seedTickets(mock, 4, "General")
	mock.Remove("ticket", ids[0])

	res, err := reg.Invoke(context.Background(), "bulk_update", map[string]any{
		"object_type":   "ticket",
		"object_ids":    ids,
		"updates":       map[string]any{"Status": "open"},
		"concurrency":   1,
		"stop_on_error": true,
	})
	require.NoError(t, err)

	out := res.(*BulkUpdateResult)
	assert.True(t, out.Stopped)
	assert.Equal(t, 1, out.FailedCount)
	assert.Equal(t, 3, out.SkippedCount)
	for _, s := range out.Skipped {
		assert.NotEmpty(t, s.Reason)
	}
}

func TestBulkUpdate_Validation(t *testing.T) {
	reg, mock := newTestRegistry(t)

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"unsupported type", map[string]any{"object_type": "group", "object_ids": []string{"1"}, "updates": map[string]any{"Name": "x"}}},
		{"ids and query", map[string]any{"object_type": "ticket", "object_ids": []string{"1"}, "query": "Status = 'new'", "updates": map[string]any{"Status": "open"}}},
		{"neither ids nor query", map[string]any{"object_type": "ticket", "updates": map[string]any{"Status": "open"}}},
		{"empty updates", map[string]any{"object_type": "ticket", "object_ids": []string{"1"}, "updates": map[string]any{}}},
		{"negative concurrency", map[string]any{"object_type": "ticket", "object_ids": []string{"1"}, "updates": map[string]any{"Status": "open"}, "concurrency": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Invoke(context.Background(), "bulk_update", tt.params)
			assert.True(t, client.IsKind(err, client.KindValidation), "error = %v", err)
		})
	}
	assert.Zero(t, mock.TotalRequests())
}

func TestAdvancedTicketSearch(t *testing.T) {
	reg, mock := newTestRegistry(t)
	seedTickets(mock, 250, "General")
	progress := &progressLog{}

	res, err := reg.Invoke(context.Background(), "advanced_ticket_search", map[string]any{
		"query":       "Queue = 'General'",
		"max_results": 150,
	}, WithProgress(progress.record))
	require.NoError(t, err)

	out := res.(*AdvancedSearchResult)
	assert.Equal(t, 150, out.RetrievedCount)
	assert.Len(t, out.Items, 150)
	assert.Equal(t, 250, out.TotalAvailable)
	assert.True(t, out.TotalKnown)
	assert.Equal(t, 150, out.MaxResults)
	assert.Equal(t, 2, mock.RequestCount(http.MethodGet, "/tickets"), "only the pages needed")

	require.Len(t, progress.events, 2)
	assert.Equal(t, 250, progress.events[1].Total)
}

func TestAdvancedTicketSearch_DefaultLimit(t *testing.T) {
	reg, mock := newTestRegistry(t, WithMaxSearchResults(30))
	seedTickets(mock, 40, "General")

	res, err := reg.Invoke(context.Background(), "advanced_ticket_search", map[string]any{"query": "Status = 'new'"})
	require.NoError(t, err)
	assert.Equal(t, 30, res.(*AdvancedSearchResult).RetrievedCount)
}

func TestSearchAll(t *testing.T) {
	reg, mock := newTestRegistry(t)
	mock.Seed("queue", map[string]any{"Name": "Support"})
	mock.Seed("user", map[string]any{"Name": "Support"})
	mock.Seed("user", map[string]any{"Name": "alice"})
	mock.SetResponse(http.MethodGet, "/assets", testutil.MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"message":"Invalid query"}`,
	})

	res, err := reg.Invoke(context.Background(), "search_all", map[string]any{"query": "Name = 'Support'"})
	require.NoError(t, err)

	out := res.(*SearchAllResult)
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Results, 3)
	assert.Len(t, out.Results["queue"].Items, 1)
	assert.Len(t, out.Results["user"].Items, 1)
	assert.Empty(t, out.Results["ticket"].Items)
	assert.Contains(t, out.Errors, "asset")
}

func TestSearchAll_SingleType(t *testing.T) {
	reg, mock := newTestRegistry(t)
	mock.Seed("user", map[string]any{"Name": "alice"})

	res, err := reg.Invoke(context.Background(), "search_all", map[string]any{"query": "Name = 'alice'", "object_type": "users"})
	require.NoError(t, err)

	out := res.(*SearchAllResult)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 1, mock.TotalRequests())

	_, err = reg.Invoke(context.Background(), "search_all", map[string]any{"query": "x", "object_type": "spaceship"})
	assert.True(t, client.IsKind(err, client.KindValidation))
}

func TestSearchAll_AbortsOnOtherFailures(t *testing.T) {
	reg, mock := newTestRegistry(t)
	mock.SetResponse(http.MethodGet, "/queues", testutil.MockResponse{StatusCode: http.StatusForbidden})

	_, err := reg.Invoke(context.Background(), "search_all", map[string]any{"query": "Name = 'x'"})
	assert.True(t, client.IsKind(err, client.KindAuthorization), "error = %v", err)
}
