package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxPageSize is the largest per_page RT honours.
	MaxPageSize = 100

	// DefaultPageSize applies when neither the filter nor the gateway set one.
	DefaultPageSize = 20
)

// Sender performs one raw request. *Session implements it.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithPageSize sets the page size used when a filter has none.
func WithPageSize(n int) GatewayOption {
	return func(g *Gateway) {
		g.pageSize = clampPageSize(n)
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// Gateway translates entity verbs into RT REST2 calls. It holds no state
// besides its sender and is safe for concurrent use.
type Gateway struct {
	sender   Sender
	pageSize int
	logger   zerolog.Logger
}

// NewGateway creates a gateway over sender.
func NewGateway(sender Sender, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		sender:   sender,
		pageSize: DefaultPageSize,
		logger:   log.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fetch reads one entity and its current token.
func (g *Gateway) Fetch(ctx context.Context, ref Ref) (Snapshot, error) {
	resp, err := g.do(ctx, &ref, &Request{Method: http.MethodGet, Path: ref.Path()})
	if err != nil {
		return Snapshot{}, err
	}
	return g.decodeSnapshot(ref, resp)
}

// FetchIfChanged reads ref only if its token differs from token. It reports
// false, with a snapshot carrying just the ref and token, when RT answers
// 304 Not Modified.
func (g *Gateway) FetchIfChanged(ctx context.Context, ref Ref, token Token) (Snapshot, bool, error) {
	if token.IsZero() {
		snap, err := g.Fetch(ctx, ref)
		return snap, err == nil, err
	}

	resp, err := g.do(ctx, &ref, &Request{
		Method: http.MethodGet,
		Path:   ref.Path(),
		Header: http.Header{"If-None-Match": {string(token)}},
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return Snapshot{Ref: ref, Token: token}, false, nil
	}
	snap, err := g.decodeSnapshot(ref, resp)
	return snap, err == nil, err
}

// Create adds an entity and returns it as subsequently read back. When the
// follow-up read fails the entity still exists; the returned snapshot then
// carries only RT's create response and an empty token.
func (g *Gateway) Create(ctx context.Context, t EntityType, fields map[string]any) (Snapshot, error) {
	resp, err := g.do(ctx, nil, &Request{
		Method: http.MethodPost,
		Path:   "/" + string(t),
		Body:   fields,
	})
	if err != nil {
		return Snapshot{}, err
	}

	obj, err := decodeObject(resp.Body)
	if err != nil {
		return Snapshot{}, DecodeFailure(resp, err)
	}
	created := snapshotFromObject(t, obj, "", "")
	if created.Ref.ID == "" {
		return Snapshot{}, DecodeFailure(resp, fmt.Errorf("create response has no id"))
	}

	return g.readBack(ctx, created, "create"), nil
}

// Update applies fields to ref if its current token still equals token. A
// stale token fails with a conflict naming ref; the update is never retried.
// An empty token is rejected without contacting RT.
func (g *Gateway) Update(ctx context.Context, ref Ref, fields map[string]any, token Token) (Snapshot, error) {
	if token.IsZero() {
		return Snapshot{}, validationFailure(&ref, "update requires a concurrency token; fetch %s first", ref)
	}

	resp, err := g.do(ctx, &ref, &Request{
		Method: http.MethodPut,
		Path:   ref.Path(),
		Body:   fields,
		Header: http.Header{"If-Match": {string(token)}},
	})
	if err != nil {
		return Snapshot{}, err
	}

	if msgs := decodeMessages(resp.Body); len(msgs) > 0 {
		g.logger.Debug().Str("ref", ref.String()).Strs("messages", msgs).Msg("Update applied")
	}

	return g.readBack(ctx, Snapshot{Ref: ref, Fields: fields}, "update"), nil
}

// Delete removes ref. RT disables rather than destroys most types; the
// result says which happened.
func (g *Gateway) Delete(ctx context.Context, ref Ref) (DeleteResult, error) {
	if !ref.Type.Deletable() {
		return DeleteResult{}, validationFailure(&ref, "%s entities cannot be deleted", ref.Type)
	}

	resp, err := g.do(ctx, &ref, &Request{Method: http.MethodDelete, Path: ref.Path()})
	if err != nil {
		return DeleteResult{}, err
	}

	result := DeleteResult{Ref: ref, Disabled: ref.Type.SoftDeletes()}
	if msgs := decodeMessages(resp.Body); len(msgs) > 0 {
		result.Message = msgs[0]
	}
	return result, nil
}

// SearchPage fetches one 1-based page of results for filter.
func (g *Gateway) SearchPage(ctx context.Context, filter Filter, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	perPage := g.pageSize
	if filter.PageSize > 0 {
		perPage = clampPageSize(filter.PageSize)
	}

	query := url.Values{}
	for k, vs := range filter.Params {
		query[k] = append([]string(nil), vs...)
	}
	if filter.Query != "" {
		query.Set("query", filter.Query)
	}
	if filter.OrderBy != "" {
		query.Set("orderby", filter.OrderBy)
	}
	if filter.Order != "" {
		query.Set("order", strings.ToUpper(filter.Order))
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	resp, err := g.do(ctx, nil, &Request{Method: http.MethodGet, Path: filter.path(), Query: query})
	if err != nil {
		return Page{}, err
	}

	var body pageBody
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return Page{}, DecodeFailure(resp, err)
	}

	out := Page{
		Items:   make([]Snapshot, 0, len(body.Items)),
		Page:    page,
		PerPage: perPage,
	}
	if body.Page > 0 {
		out.Page = body.Page
	}
	if body.PerPage > 0 {
		out.PerPage = body.PerPage
	}
	for _, obj := range body.Items {
		out.Items = append(out.Items, snapshotFromObject(filter.Type, obj, "", ""))
	}
	if body.Total != nil {
		out.Total = *body.Total
		out.TotalKnown = true
	}
	if body.Pages != nil {
		out.Pages = *body.Pages
		out.HasMore = out.Page < out.Pages
	} else {
		out.HasMore = body.NextPage != ""
	}
	return out, nil
}

// Act invokes a sub-resource action such as "correspond" or "take". Actions
// are not idempotent and are never retried.
func (g *Gateway) Act(ctx context.Context, ref Ref, action, method string, body any) (map[string]any, error) {
	if method == "" {
		method = http.MethodPost
	}
	resp, err := g.do(ctx, &ref, &Request{
		Method: method,
		Path:   ref.Path() + "/" + strings.TrimLeft(action, "/"),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

// Download returns the raw body of a sub-resource, e.g. attachment content.
func (g *Gateway) Download(ctx context.Context, ref Ref, sub string) (Content, error) {
	path := ref.Path()
	if sub != "" {
		path += "/" + strings.TrimLeft(sub, "/")
	}
	resp, err := g.do(ctx, &ref, &Request{
		Method: http.MethodGet,
		Path:   path,
		Header: http.Header{"Accept": {"*/*"}},
	})
	if err != nil {
		return Content{}, err
	}
	return Content{Data: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil
}

// ServerInfo reads the REST2 root document (RT version and plugins).
func (g *Gateway) ServerInfo(ctx context.Context) (map[string]any, error) {
	resp, err := g.do(ctx, nil, &Request{Method: http.MethodGet, Path: "/"})
	if err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

// do sends req and classifies the outcome, naming ref in any failure.
func (g *Gateway) do(ctx context.Context, ref *Ref, req *Request) (*Response, error) {
	resp, err := g.sender.Send(ctx, req)
	if cerr := Classify(resp, err); cerr != nil {
		if f, ok := AsFailure(cerr); ok && ref != nil && f.Ref == nil {
			return nil, f.WithRef(*ref)
		}
		return nil, cerr
	}
	return resp, nil
}

func (g *Gateway) decodeSnapshot(ref Ref, resp *Response) (Snapshot, error) {
	obj, err := decodeObject(resp.Body)
	if err != nil {
		return Snapshot{}, DecodeFailure(resp, err).(*Failure).WithRef(ref)
	}
	snap := snapshotFromObject(ref.Type, obj, ref.ID, resp.ETag())
	return snap, nil
}

// readBack re-reads a just-written entity for its fields and token. RT does
// not return either from POST or PUT.
func (g *Gateway) readBack(ctx context.Context, written Snapshot, verb string) Snapshot {
	fresh, err := g.Fetch(ctx, written.Ref)
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("ref", written.Ref.String()).
			Str("verb", verb).
			Msg("Follow-up read failed; returning snapshot without token")
		written.Token = ""
		return written
	}
	return fresh
}

func clampPageSize(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// decodeMessages reads RT's array-of-strings status reply. Anything else
// yields nil.
func decodeMessages(data []byte) []string {
	var msgs []string
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}

// decodeResult normalises an action reply: objects pass through, message
// arrays become {"messages": [...]}, an empty body becomes {}.
func decodeResult(resp *Response) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(resp.Body))
	if trimmed == "" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []any
		if err := json.Unmarshal(resp.Body, &items); err != nil {
			return nil, DecodeFailure(resp, err)
		}
		return map[string]any{"messages": items}, nil
	}
	obj, err := decodeObject(resp.Body)
	if err != nil {
		return nil, DecodeFailure(resp, err)
	}
	return obj, nil
}
