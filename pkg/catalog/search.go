package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/rt-gateway/pkg/bulk"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/pagination"
)

// searchAllTypes are searched by search_all when no object_type is given.
var searchAllTypes = []client.EntityType{client.TypeTicket, client.TypeQueue, client.TypeUser, client.TypeAsset}

// bulkTypes are the entity types bulk_update accepts.
var bulkTypes = []client.EntityType{client.TypeTicket, client.TypeAsset, client.TypeQueue, client.TypeUser}

type searchAllRequest struct {
	Query      string `mapstructure:"query" catalog:"required"`
	ObjectType string `mapstructure:"object_type"`
	PerPage    int    `mapstructure:"per_page"`
}

type bulkUpdateRequest struct {
	ObjectType  string         `mapstructure:"object_type" catalog:"required"`
	ObjectIDs   []string       `mapstructure:"object_ids"`
	Query       string         `mapstructure:"query"`
	Updates     map[string]any `mapstructure:"updates" catalog:"required"`
	Concurrency int            `mapstructure:"concurrency"`
	StopOnError bool           `mapstructure:"stop_on_error"`
}

type advancedSearchRequest struct {
	Query      string `mapstructure:"query" catalog:"required"`
	MaxResults int    `mapstructure:"max_results"`
	OrderBy    string `mapstructure:"order_by"`
	Order      string `mapstructure:"order"`
}

// SearchAllResult is the result of search_all.
type SearchAllResult struct {
	Query   string                 `json:"query"`
	Results map[string]client.Page `json:"results"`
	Errors  map[string]string      `json:"errors,omitempty"`
	Total   int                    `json:"total"`
}

// BulkItemError describes one failed target of bulk_update.
type BulkItemError struct {
	ID    string      `json:"id"`
	Kind  client.Kind `json:"kind"`
	Error string      `json:"error"`
}

// BulkItemSkip describes one skipped target of bulk_update.
type BulkItemSkip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkUpdateResult is the result of bulk_update.
type BulkUpdateResult struct {
	RunID        string          `json:"run_id"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	SkippedCount int             `json:"skipped_count"`
	Stopped      bool            `json:"stopped"`
	Succeeded    []string        `json:"succeeded"`
	Failed       []BulkItemError `json:"failed"`
	Skipped      []BulkItemSkip  `json:"skipped"`
}

// AdvancedSearchResult is the result of advanced_ticket_search.
type AdvancedSearchResult struct {
	Query          string            `json:"query"`
	TotalAvailable int               `json:"total_available"`
	TotalKnown     bool              `json:"total_known"`
	RetrievedCount int               `json:"retrieved_count"`
	MaxResults     int               `json:"max_results"`
	Items          []client.Snapshot `json:"items"`
}

func (r *Registry) registerSearch() {
	const res = "search"

	register(r, op("search_all", res, KindRead, PermPowerUser, "Search All RT Objects", "Search tickets, queues, users and assets at once"),
		searchAllRequest{PerPage: r.pageSize},
		func(ctx context.Context, req searchAllRequest, _ *call) (any, error) {
			return r.searchAll(ctx, req)
		})

	register(r, op("bulk_update", res, KindWrite, PermPowerUser, "Bulk Update RT Objects", "Apply the same field updates to many objects"),
		bulkUpdateRequest{},
		func(ctx context.Context, req bulkUpdateRequest, c *call) (any, error) {
			return r.bulkUpdate(ctx, req, c)
		})

	register(r, op("advanced_ticket_search", res, KindRead, PermPowerUser, "Advanced RT Ticket Search", "Search tickets across pages up to max_results"),
		advancedSearchRequest{MaxResults: r.maxResults},
		func(ctx context.Context, req advancedSearchRequest, c *call) (any, error) {
			return r.advancedSearch(ctx, req, c)
		})
}

func (r *Registry) searchAll(ctx context.Context, req searchAllRequest) (*SearchAllResult, error) {
	types := searchAllTypes
	if req.ObjectType != "" {
		t, err := client.ParseEntityType(req.ObjectType)
		if err != nil {
			return nil, invalid("object_type: %v", err)
		}
		types = []client.EntityType{t}
	}

	out := &SearchAllResult{
		Query:   req.Query,
		Results: make(map[string]client.Page, len(types)),
	}
	for _, t := range types {
		page, err := r.gw.SearchPage(ctx, client.Filter{Type: t, Query: req.Query, PageSize: req.PerPage}, 1)
		if err != nil {
			// RT rejects a query that does not fit every type; report it
			// for that type and carry on with the others.
			if client.IsKind(err, client.KindValidation) {
				if out.Errors == nil {
					out.Errors = make(map[string]string)
				}
				out.Errors[string(t)] = err.Error()
				continue
			}
			return nil, err
		}
		out.Results[string(t)] = page
		if page.TotalKnown {
			out.Total += page.Total
		} else {
			out.Total += len(page.Items)
		}
	}
	return out, nil
}

func (r *Registry) bulkUpdate(ctx context.Context, req bulkUpdateRequest, c *call) (*BulkUpdateResult, error) {
	t, err := client.ParseEntityType(req.ObjectType)
	if err != nil || !bulkType(t) {
		return nil, invalid("object_type must be one of ticket, asset, queue, user; got %q", req.ObjectType)
	}
	if (len(req.ObjectIDs) > 0) == (req.Query != "") {
		return nil, invalid("set exactly one of object_ids and query")
	}
	if len(req.Updates) == 0 {
		return nil, invalid("updates must not be empty")
	}
	if req.Concurrency < 0 {
		return nil, invalid("concurrency must not be negative, got %d", req.Concurrency)
	}

	plan := bulk.Plan{
		Mutation:    bulk.UpdateFields(r.gw, req.Updates),
		Concurrency: req.Concurrency,
		StopOnError: req.StopOnError,
	}
	if req.Query != "" {
		plan.Filter = &client.Filter{Type: t, Query: req.Query, PageSize: client.MaxPageSize}
	} else {
		plan.Targets = make([]client.Ref, 0, len(req.ObjectIDs))
		for _, id := range req.ObjectIDs {
			plan.Targets = append(plan.Targets, client.NewRef(t, id))
		}
	}

	reporter := bulk.ReporterFunc(func(_ context.Context, p bulk.Progress) {
		c.report(p.Completed, p.Total, fmt.Sprintf("%s %s", p.Record.Ref, p.Record.Status))
	})
	outcome, err := r.coord.Run(ctx, plan, reporter)
	if err != nil {
		return nil, err
	}

	result := &BulkUpdateResult{
		RunID:        outcome.RunID,
		Total:        outcome.Total,
		SuccessCount: outcome.Succeeded,
		FailedCount:  outcome.Failed,
		SkippedCount: outcome.Skipped,
		Stopped:      outcome.Stopped,
		Succeeded:    []string{},
		Failed:       []BulkItemError{},
		Skipped:      []BulkItemSkip{},
	}
	for _, rec := range outcome.Records {
		switch rec.Status {
		case bulk.StatusSucceeded:
			result.Succeeded = append(result.Succeeded, rec.Ref.ID)
		case bulk.StatusFailed:
			result.Failed = append(result.Failed, BulkItemError{ID: rec.Ref.ID, Kind: rec.Kind, Error: rec.Message()})
		case bulk.StatusSkipped:
			result.Skipped = append(result.Skipped, BulkItemSkip{ID: rec.Ref.ID, Reason: rec.Reason})
		}
	}
	return result, nil
}

func (r *Registry) advancedSearch(ctx context.Context, req advancedSearchRequest, c *call) (*AdvancedSearchResult, error) {
	if req.MaxResults < 1 {
		return nil, invalid("max_results must be at least 1, got %d", req.MaxResults)
	}

	filter := client.Filter{
		Type:     client.TypeTicket,
		Query:    req.Query,
		OrderBy:  req.OrderBy,
		Order:    req.Order,
		PageSize: client.MaxPageSize,
	}
	cur := pagination.New(r.gw, filter, pagination.Config{MaxItems: req.MaxResults})

	items := make([]client.Snapshot, 0)
	pages := 0
	for {
		item, err := cur.Next(ctx)
		if errors.Is(err, pagination.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if n := cur.PagesFetched(); n != pages {
			pages = n
			total, _ := cur.Total()
			c.report(len(items), total, fmt.Sprintf("fetched page %d", n))
		}
	}

	total, known := cur.Total()
	if !known {
		total = len(items)
	}
	return &AdvancedSearchResult{
		Query:          req.Query,
		TotalAvailable: total,
		TotalKnown:     known,
		RetrievedCount: len(items),
		MaxResults:     req.MaxResults,
		Items:          items,
	}, nil
}

func bulkType(t client.EntityType) bool {
	for _, bt := range bulkTypes {
		if bt == t {
			return true
		}
	}
	return false
}
