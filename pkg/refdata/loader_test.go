package refdata

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/rt-gateway/internal/testutil"
	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/rs/zerolog"
)

func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newMockGateway(t *testing.T) (*client.Gateway, *testutil.MockRT) {
	t.Helper()
	mock := testutil.NewMockRT()
	t.Cleanup(mock.Close)

	session, err := client.Open(client.SessionConfig{
		BaseURL:   mock.URL(),
		Token:     "secret",
		VerifyTLS: true,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return client.NewGateway(session), mock
}

// fakeSource serves one user with a fixed ETag and counts requests.
type fakeSource struct {
	mu          sync.Mutex
	etag        string
	fetches     int
	revalidated int
	serverCalls int
	fail        error
}

func (f *fakeSource) SearchPage(_ context.Context, filter client.Filter, page int) (client.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return client.Page{}, f.fail
	}
	return client.Page{
		Items: []client.Snapshot{{Ref: client.NewRef(filter.Type, 1), Fields: map[string]any{"Name": "General"}}},
		Page:  page,
	}, nil
}

func (f *fakeSource) FetchIfChanged(_ context.Context, ref client.Ref, token client.Token) (client.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fail != nil {
		return client.Snapshot{}, false, f.fail
	}
	if token != "" && string(token) == f.etag {
		f.revalidated++
		return client.Snapshot{Ref: ref, Token: token}, false, nil
	}
	return client.Snapshot{
		Ref:    client.NewRef(client.TypeUser, 14),
		Fields: map[string]any{"id": 14, "Name": "root"},
		Token:  client.Token(f.etag),
	}, true, nil
}

func (f *fakeSource) ServerInfo(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverCalls++
	if f.fail != nil {
		return nil, f.fail
	}
	return map[string]any{"version": "5.0.5"}, nil
}

func (f *fakeSource) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func TestLoader_WithoutManagerAlwaysFetches(t *testing.T) {
	gw, mock := newMockGateway(t)
	mock.Seed("queue", map[string]any{"Name": "General"})
	mock.Seed("queue", map[string]any{"Name": "Support"})

	loader := NewLoader(gw, WithLogger(quietLogger()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		queues, err := loader.Queues(ctx)
		if err != nil {
			t.Fatalf("Queues() error = %v", err)
		}
		if len(queues) != 2 {
			t.Fatalf("len(Queues()) = %d, want 2", len(queues))
		}
	}

	if got := mock.RequestCount(http.MethodGet, "/queues"); got != 2 {
		t.Errorf("GET /queues count = %d, want 2 without a cache", got)
	}
}

func TestLoader_Read(t *testing.T) {
	gw, mock := newMockGateway(t)
	mock.Seed("queue", map[string]any{"Name": "General"})
	mock.Seed("customfield", map[string]any{"Name": "Severity"})

	loader := NewLoader(gw, WithLogger(quietLogger()))
	ctx := context.Background()

	tests := []struct {
		uri   string
		check func(t *testing.T, v any)
	}{
		{URIQueues, func(t *testing.T, v any) {
			if items := v.([]client.Snapshot); len(items) != 1 || items[0].Text("Name") != "General" {
				t.Errorf("queues = %+v", items)
			}
		}},
		{URICustomFields, func(t *testing.T, v any) {
			if items := v.([]client.Snapshot); len(items) != 1 || items[0].Text("Name") != "Severity" {
				t.Errorf("custom fields = %+v", items)
			}
		}},
		{URICurrentUser, func(t *testing.T, v any) {
			if snap := v.(client.Snapshot); snap.Text("Name") != "root" {
				t.Errorf("current user = %+v", snap)
			}
		}},
		{URIServerInfo, func(t *testing.T, v any) {
			if info := v.(map[string]any); info["version"] != "5.0.5" {
				t.Errorf("server info = %+v", info)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			v, err := loader.Read(ctx, tt.uri)
			if err != nil {
				t.Fatalf("Read(%s) error = %v", tt.uri, err)
			}
			tt.check(t, v)
		})
	}
}

func TestLoader_ReadUnknown(t *testing.T) {
	loader := NewLoader(&fakeSource{}, WithLogger(quietLogger()))

	_, err := loader.Read(context.Background(), "rt://nothing")
	if !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Read() error = %v, want ErrUnknownResource", err)
	}
}

func TestLoader_Resources(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range Resources {
		if seen[r.URI] {
			t.Errorf("duplicate resource %s", r.URI)
		}
		seen[r.URI] = true
	}
	for _, uri := range []string{URIQueues, URICustomFields, URICurrentUser, URIServerInfo} {
		if !seen[uri] {
			t.Errorf("resource %s not listed", uri)
		}
	}
}

func TestLoader_FetchErrorWithoutCache(t *testing.T) {
	src := &fakeSource{}
	src.setFail(&client.Failure{Kind: client.KindAuthorization, StatusCode: 403})
	loader := NewLoader(src, WithLogger(quietLogger()))

	_, err := loader.ServerInfo(context.Background())
	if !client.IsKind(err, client.KindAuthorization) {
		t.Errorf("ServerInfo() error = %v, want authorization failure", err)
	}
}

func TestLoader_CachesInRedis(t *testing.T) {
	src := &fakeSource{}
	manager := NewManager(testutil.LocalRedis(t))
	loader := NewLoader(src, WithManager(manager), WithLogger(quietLogger()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := loader.ServerInfo(ctx)
		if err != nil {
			t.Fatalf("ServerInfo() error = %v", err)
		}
		if info["version"] != "5.0.5" {
			t.Errorf("version = %v", info["version"])
		}
	}
	if src.serverCalls != 1 {
		t.Errorf("server calls = %d, want 1", src.serverCalls)
	}

	if err := loader.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := loader.ServerInfo(ctx); err != nil {
		t.Fatalf("ServerInfo() error = %v", err)
	}
	if src.serverCalls != 2 {
		t.Errorf("server calls after Invalidate() = %d, want 2", src.serverCalls)
	}
}

func TestLoader_RevalidatesStaleEntry(t *testing.T) {
	src := &fakeSource{etag: `"14-3"`}
	manager := NewManager(testutil.LocalRedis(t))
	loader := NewLoader(src, WithManager(manager), WithTTL(time.Minute), WithLogger(quietLogger()))
	ctx := context.Background()

	now := time.Now()
	loader.now = func() time.Time { return now }

	if _, err := loader.CurrentUser(ctx); err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	user, err := loader.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user.Text("Name") != "root" {
		t.Errorf("Name = %q, want cached root", user.Text("Name"))
	}
	if src.revalidated != 1 {
		t.Errorf("revalidations = %d, want 1", src.revalidated)
	}

	// The 304 extended freshness; no request this time.
	if _, err := loader.CurrentUser(ctx); err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if src.fetches != 2 {
		t.Errorf("fetches = %d, want 2", src.fetches)
	}
}

func TestLoader_ServesStaleOnFailure(t *testing.T) {
	src := &fakeSource{}
	manager := NewManager(testutil.LocalRedis(t))
	loader := NewLoader(src, WithManager(manager), WithTTL(time.Minute), WithLogger(quietLogger()))
	ctx := context.Background()

	now := time.Now()
	loader.now = func() time.Time { return now }

	if _, err := loader.Queues(ctx); err != nil {
		t.Fatalf("Queues() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	src.setFail(&client.Failure{Kind: client.KindNetwork, Message: "network error"})

	queues, err := loader.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues() should fall back to stale data, error = %v", err)
	}
	if len(queues) != 1 || queues[0].Text("Name") != "General" {
		t.Errorf("queues = %+v", queues)
	}
}
