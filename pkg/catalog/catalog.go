// Package catalog is the closed set of named RT operations the gateway
// serves.
//
// Each operation has a typed request struct. Invoke decodes generic
// parameters (for example a JSON object) into that struct with weak typing,
// so "42" and 42 are both accepted as an id, and rejects unknown or missing
// parameters as validation failures before any request is sent.
//
// Operations are tagged by resource ("tickets", "custom-fields", ...), kind
// (read, write, delete, search) and permission (basic, power-user, admin).
// List filters on those tags.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/bulk"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnknownOperation is returned by Invoke for names not in the registry.
var ErrUnknownOperation = errors.New("catalog: unknown operation")

// Gateway is the part of *client.Gateway the catalog uses.
type Gateway interface {
	Fetch(ctx context.Context, ref client.Ref) (client.Snapshot, error)
	Create(ctx context.Context, t client.EntityType, fields map[string]any) (client.Snapshot, error)
	Update(ctx context.Context, ref client.Ref, fields map[string]any, token client.Token) (client.Snapshot, error)
	Delete(ctx context.Context, ref client.Ref) (client.DeleteResult, error)
	SearchPage(ctx context.Context, filter client.Filter, page int) (client.Page, error)
	Act(ctx context.Context, ref client.Ref, action, method string, body any) (map[string]any, error)
	Download(ctx context.Context, ref client.Ref, sub string) (client.Content, error)
}

// Progress is reported by long-running operations.
type Progress struct {
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// CallOption configures one Invoke call.
type CallOption func(*call)

// WithProgress receives progress from bulk_update and
// advanced_ticket_search. Other operations never report.
func WithProgress(fn func(Progress)) CallOption {
	return func(c *call) {
		c.progress = fn
	}
}

type call struct {
	progress func(Progress)
}

func (c *call) report(done, total int, msg string) {
	if c.progress != nil {
		c.progress(Progress{Done: done, Total: total, Message: msg})
	}
}

type operation struct {
	desc   Descriptor
	invoke func(ctx context.Context, params map[string]any, c *call) (any, error)
}

// Registry dispatches operations by name.
type Registry struct {
	gw          Gateway
	coord       *bulk.Coordinator
	pageSize    int
	maxResults  int
	concurrency int
	logger      zerolog.Logger
	ops         map[string]*operation
}

// Option configures a Registry.
type Option func(*Registry)

// WithCoordinator sets the coordinator bulk_update runs on. By default one
// is built over the gateway.
func WithCoordinator(c *bulk.Coordinator) Option {
	return func(r *Registry) {
		r.coord = c
	}
}

// WithPageSize sets the default per_page of list and search operations.
func WithPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithMaxSearchResults sets the default max_results of
// advanced_ticket_search.
func WithMaxSearchResults(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxResults = n
		}
	}
}

// WithBulkConcurrency sets the concurrency of the default coordinator.
func WithBulkConcurrency(k int) Option {
	return func(r *Registry) {
		if k > 0 {
			r.concurrency = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New builds the registry with every operation registered.
func New(gw Gateway, opts ...Option) *Registry {
	r := &Registry{
		gw:          gw,
		pageSize:    client.DefaultPageSize,
		maxResults:  1000,
		concurrency: bulk.DefaultConcurrency,
		logger:      log.With().Str("component", "catalog").Logger(),
		ops:         make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.coord == nil {
		r.coord = bulk.NewCoordinator(gw, bulk.WithConcurrency(r.concurrency))
	}

	r.registerTickets()
	r.registerQueues()
	r.registerUsers()
	r.registerGroups()
	r.registerAssets()
	r.registerCatalogs()
	r.registerCustomFields()
	r.registerCustomRoles()
	r.registerTransactions()
	r.registerAttachments()
	r.registerSearch()
	return r
}

// List returns the descriptors carrying every given tag, sorted by name.
func (r *Registry) List(tags ...string) []Descriptor {
	out := make([]Descriptor, 0, len(r.ops))
	for _, op := range r.ops {
		if op.desc.HasTags(tags...) {
			out = append(out, op.desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe returns the descriptor of one operation.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	op, ok := r.ops[name]
	if !ok {
		return Descriptor{}, false
	}
	return op.desc, true
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	return len(r.ops)
}

// Invoke runs the named operation. Failures from RT come back unchanged, so
// callers can inspect them with client.AsFailure.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any, opts ...CallOption) (any, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	c := &call{}
	for _, opt := range opts {
		opt(c)
	}

	start := time.Now()
	result, err := op.invoke(ctx, params, c)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	}
	invocationsTotal.WithLabelValues(name, outcome).Inc()
	invocationDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	ev := r.logger.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("operation", name).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("Operation invoked")

	return result, err
}

func outcomeOf(err error) string {
	if client.IsCancelled(err) {
		return "cancelled"
	}
	if f, ok := client.AsFailure(err); ok {
		return string(f.Kind)
	}
	return "error"
}

// register adds an operation whose parameters decode into Req, starting
// from defaults.
func register[Req any](r *Registry, d Descriptor, defaults Req, run func(ctx context.Context, req Req, c *call) (any, error)) {
	if _, dup := r.ops[d.Name]; dup {
		panic("catalog: duplicate operation " + d.Name)
	}
	d.ReadOnly = d.Kind == KindRead || d.Kind == KindSearch
	d.Params = paramsOf(reflect.TypeOf(defaults))

	r.ops[d.Name] = &operation{
		desc: d,
		invoke: func(ctx context.Context, params map[string]any, c *call) (any, error) {
			req := defaults
			if err := decodeParams(params, &req); err != nil {
				return nil, invalid("%s: %v", d.Name, err)
			}
			if missing := missingRequired(&req); missing != "" {
				return nil, invalid("%s: missing required parameter %q", d.Name, missing)
			}
			return run(ctx, req, c)
		},
	}
}

func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

// missingRequired returns the first required parameter left at its zero
// value.
func missingRequired(req any) string {
	v := reflect.ValueOf(req).Elem()
	if v.Kind() != reflect.Struct {
		return ""
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("catalog") != "required" {
			continue
		}
		if v.Field(i).IsZero() {
			return f.Tag.Get("mapstructure")
		}
	}
	return ""
}

// invalid builds a validation failure for a request rejected locally.
func invalid(format string, args ...any) error {
	return &client.Failure{
		Kind:    client.KindValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// op builds a descriptor.
func op(name, resource string, kind OpKind, perm Permission, title, description string) Descriptor {
	return Descriptor{
		Name:        name,
		Title:       title,
		Description: description,
		Resource:    resource,
		Kind:        kind,
		Permission:  perm,
	}
}

// destructive marks a descriptor as destructive.
func destructive(d Descriptor) Descriptor {
	d.Destructive = true
	return d
}
