package catalog

import (
	"context"

	"github.com/Sternrassler/rt-gateway/pkg/client"
)

// listRequest pages through a whole collection.
type listRequest struct {
	Page    int `mapstructure:"page"`
	PerPage int `mapstructure:"per_page"`
}

// searchRequest pages through a query.
type searchRequest struct {
	Query   string `mapstructure:"query" catalog:"required"`
	Page    int    `mapstructure:"page"`
	PerPage int    `mapstructure:"per_page"`
}

func (r *Registry) listDefaults() listRequest {
	return listRequest{Page: 1, PerPage: r.pageSize}
}

func (r *Registry) searchDefaults() searchRequest {
	return searchRequest{Page: 1, PerPage: r.pageSize}
}

func (r *Registry) list(ctx context.Context, t client.EntityType, req listRequest) (any, error) {
	return r.gw.SearchPage(ctx, client.Filter{Type: t, PageSize: req.PerPage}, req.Page)
}

func (r *Registry) search(ctx context.Context, t client.EntityType, req searchRequest) (any, error) {
	return r.gw.SearchPage(ctx, client.Filter{Type: t, Query: req.Query, PageSize: req.PerPage}, req.Page)
}

func (r *Registry) get(ctx context.Context, t client.EntityType, id string) (any, error) {
	return r.gw.Fetch(ctx, client.NewRef(t, id))
}

func (r *Registry) create(ctx context.Context, t client.EntityType, fields map[string]any) (any, error) {
	return r.gw.Create(ctx, t, fields)
}

func (r *Registry) remove(ctx context.Context, t client.EntityType, id string) (any, error) {
	return r.gw.Delete(ctx, client.NewRef(t, id))
}

// update writes fields under token. Without a token the entity is read
// first and its current token used, so a concurrent edit between that read
// and the write still surfaces as a conflict.
func (r *Registry) update(ctx context.Context, ref client.Ref, fields map[string]any, token string) (any, error) {
	if len(fields) == 0 {
		return nil, invalid("no fields to update on %s", ref)
	}
	tok := client.Token(token)
	if tok.IsZero() {
		snap, err := r.gw.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		if tok, err = snap.UpdateToken(); err != nil {
			return nil, err
		}
	}
	return r.gw.Update(ctx, ref, fields, tok)
}

// set copies *v into fields under key when v is non-nil.
func set[T any](fields map[string]any, key string, v *T) {
	if v != nil {
		fields[key] = *v
	}
}

// setFlag copies *v into fields as RT's 0/1 flag when v is non-nil.
func setFlag(fields map[string]any, key string, v *bool) {
	if v != nil {
		fields[key] = flag(*v)
	}
}

// setText copies v into fields when it is non-empty.
func setText(fields map[string]any, key, v string) {
	if v != "" {
		fields[key] = v
	}
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
