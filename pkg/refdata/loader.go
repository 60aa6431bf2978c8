package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTTL is how long reference data stays fresh.
	DefaultTTL = 5 * time.Minute

	// MaxListItems bounds the cached lists.
	MaxListItems = 1000

	listPageSize = client.MaxPageSize
)

// Resource URIs served by Read.
const (
	URIQueues       = "rt://queues/list"
	URICustomFields = "rt://custom-fields/list"
	URICurrentUser  = "rt://user/current"
	URIServerInfo   = "rt://server/info"
)

// ErrUnknownResource is returned by Read for URIs it does not serve.
var ErrUnknownResource = errors.New("refdata: unknown resource")

// Resource describes one readable document.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
}

// Resources lists the documents Read serves.
var Resources = []Resource{
	{URI: URIQueues, Name: "Queues", Description: "All queues visible to the current user", MimeType: "application/json"},
	{URI: URICustomFields, Name: "Custom fields", Description: "All custom field definitions", MimeType: "application/json"},
	{URI: URICurrentUser, Name: "Current user", Description: "The authenticated RT user", MimeType: "application/json"},
	{URI: URIServerInfo, Name: "Server info", Description: "RT version and installed plugins", MimeType: "application/json"},
}

// Source is the part of the gateway the loader reads from. *client.Gateway
// implements it.
type Source interface {
	pagination.PageSearcher
	FetchIfChanged(ctx context.Context, ref client.Ref, token client.Token) (client.Snapshot, bool, error)
	ServerInfo(ctx context.Context) (map[string]any, error)
}

// Loader reads reference data, through the manager when one is set.
type Loader struct {
	source  Source
	manager *Manager
	ttl     time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithManager caches documents in Redis. A nil manager disables caching.
func WithManager(m *Manager) LoaderOption {
	return func(l *Loader) {
		l.manager = m
	}
}

// WithTTL sets the freshness of cached documents.
func WithTTL(ttl time.Duration) LoaderOption {
	return func(l *Loader) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader over source.
func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		source: source,
		ttl:    DefaultTTL,
		logger: log.With().Str("component", "refdata").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Queues returns every queue.
func (l *Loader) Queues(ctx context.Context) ([]client.Snapshot, error) {
	return l.list(ctx, "queues", client.TypeQueue)
}

// CustomFields returns every custom field definition.
func (l *Loader) CustomFields(ctx context.Context) ([]client.Snapshot, error) {
	return l.list(ctx, "custom-fields", client.TypeCustomField)
}

// CurrentUser returns the authenticated user.
func (l *Loader) CurrentUser(ctx context.Context) (client.Snapshot, error) {
	ref := client.Ref{Type: client.TypeUser, ID: "current"}
	data, err := l.load(ctx, Key{Name: "user:current"}, func(ctx context.Context, etag string) ([]byte, string, bool, error) {
		snap, changed, err := l.source.FetchIfChanged(ctx, ref, client.Token(etag))
		if err != nil || !changed {
			return nil, etag, changed, err
		}
		data, err := json.Marshal(snap)
		return data, string(snap.Token), true, err
	})
	if err != nil {
		return client.Snapshot{}, err
	}

	var snap client.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return client.Snapshot{}, fmt.Errorf("decode current user: %w", err)
	}
	return snap, nil
}

// ServerInfo returns RT's version information.
func (l *Loader) ServerInfo(ctx context.Context) (map[string]any, error) {
	data, err := l.load(ctx, Key{Name: "server:info"}, func(ctx context.Context, _ string) ([]byte, string, bool, error) {
		info, err := l.source.ServerInfo(ctx)
		if err != nil {
			return nil, "", false, err
		}
		data, err := json.Marshal(info)
		return data, "", true, err
	})
	if err != nil {
		return nil, err
	}

	var info map[string]any
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode server info: %w", err)
	}
	return info, nil
}

// Read returns the document behind uri.
func (l *Loader) Read(ctx context.Context, uri string) (any, error) {
	switch uri {
	case URIQueues:
		return l.Queues(ctx)
	case URICustomFields:
		return l.CustomFields(ctx)
	case URICurrentUser:
		return l.CurrentUser(ctx)
	case URIServerInfo:
		return l.ServerInfo(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
}

// Invalidate drops every cached document so the next read goes to RT.
func (l *Loader) Invalidate(ctx context.Context) error {
	if l.manager == nil {
		return nil
	}
	var errs []error
	for _, key := range []Key{listKey("queues"), listKey("custom-fields"), {Name: "user:current"}, {Name: "server:info"}} {
		if err := l.manager.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func listKey(name string) Key {
	return Key{Name: name, Params: url.Values{"per_page": {strconv.Itoa(listPageSize)}}}
}

func (l *Loader) list(ctx context.Context, name string, t client.EntityType) ([]client.Snapshot, error) {
	data, err := l.load(ctx, listKey(name), func(ctx context.Context, _ string) ([]byte, string, bool, error) {
		cur := pagination.New(l.source, client.Filter{Type: t, PageSize: listPageSize}, pagination.Config{MaxItems: MaxListItems})
		items, err := cur.Collect(ctx)
		if err != nil {
			return nil, "", false, err
		}
		data, err := json.Marshal(items)
		return data, "", true, err
	})
	if err != nil {
		return nil, err
	}

	var items []client.Snapshot
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return items, nil
}

// fetchFunc fetches a document. Given a non-empty etag it may report
// changed=false, meaning the cached copy is still current.
type fetchFunc func(ctx context.Context, etag string) (data []byte, newETag string, changed bool, err error)

func (l *Loader) load(ctx context.Context, key Key, fetch fetchFunc) ([]byte, error) {
	if l.manager == nil {
		data, _, _, err := fetch(ctx, "")
		return data, err
	}

	logger := l.logger.With().Str("key", key.String()).Logger()

	entry, err := l.manager.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrMiss) {
		logger.Warn().Err(err).Msg("Reference data store unavailable, fetching from RT")
		entry = nil
	}

	now := l.now()
	if entry != nil && entry.IsFresh(now) {
		hitsTotal.Inc()
		return entry.Data, nil
	}
	missesTotal.Inc()

	etag := ""
	if entry != nil {
		etag = entry.ETag
	}

	data, newETag, changed, err := fetch(ctx, etag)
	if err != nil {
		if entry != nil && !client.IsCancelled(err) {
			logger.Warn().Err(err).Dur("age", entry.Age(now)).Msg("Serving stale reference data")
			return entry.Data, nil
		}
		return nil, err
	}

	if !changed && entry != nil {
		revalidationsTotal.Inc()
		if err := l.manager.Touch(ctx, key, now.Add(l.ttl)); err != nil {
			logger.Warn().Err(err).Msg("Failed to extend reference data")
		}
		return entry.Data, nil
	}

	if err := l.manager.Set(ctx, key, NewEntry(data, newETag, l.ttl, now)); err != nil {
		logger.Warn().Err(err).Msg("Failed to store reference data")
	}
	logger.Debug().Int("bytes", len(data)).Msg("Reference data refreshed")
	return data, nil
}
