package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/logging"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeFetcher 按 path 返回预设响应，未配置的 path 视为网络不可达。
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	failures  map[string]error
	offline   bool
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*cache.Response),
		failures:  make(map[string]error),
	}
}

func (f *fakeFetcher) serve(path string, status int, body string) {
	f.serveType(path, status, body, cache.ResponseTypeBasic)
}

func (f *fakeFetcher) serveType(path string, status int, body string, typ cache.ResponseType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = &cache.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
		Type:   typ,
		URL:    "http://origin.test" + path,
	}
}

func (f *fakeFetcher) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = err
}

func (f *fakeFetcher) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := req.URL.RequestURI()
	f.calls = append(f.calls, path)
	if f.offline {
		return nil, errOffline
	}
	if err, ok := f.failures[path]; ok {
		return nil, err
	}
	resp, ok := f.responses[path]
	if !ok {
		return nil, errOffline
	}
	return resp.Clone(), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLifecycle struct {
	mu          sync.Mutex
	skipWaiting int
	claims      int
	claimErr    error
}

func (l *fakeLifecycle) SkipWaiting(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skipWaiting++
	return nil
}

func (l *fakeLifecycle) Claim(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claims++
	return l.claimErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
	opened []string
}

func (n *fakeNotifier) ShowNotification(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, note)
	return nil
}

func (n *fakeNotifier) CloseNotification(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

func (n *fakeNotifier) OpenWindow(_ context.Context, route string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, route)
	return nil
}

// countingStorage 统计跨命名空间查找次数，并可模拟删除失败。
type countingStorage struct {
	cache.Storage

	mu         sync.Mutex
	matches    int
	failDelete map[string]error
}

func (s *countingStorage) Match(ctx context.Context, key cache.Key) (*cache.Response, error) {
	s.mu.Lock()
	s.matches++
	s.mu.Unlock()
	return s.Storage.Match(ctx, key)
}

func (s *countingStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err, ok := s.failDelete[name]; ok {
		return false, err
	}
	return s.Storage.Delete(ctx, name)
}

func (s *countingStorage) matchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches
}

type fixture struct {
	manager   *Manager
	storage   *countingStorage
	fetcher   *fakeFetcher
	lifecycle *fakeLifecycle
	notifier  *fakeNotifier
}

var testNames = Names{
	Static:  "property-predictor-static-v1.0.0",
	Dynamic: "property-predictor-dynamic-v1.0.0",
}

var testAssets = []string{"/", "/index.html", "/manifest.json"}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		storage:   &countingStorage{Storage: cache.NewMemoryStorage()},
		fetcher:   newFakeFetcher(),
		lifecycle: &fakeLifecycle{},
		notifier:  &fakeNotifier{},
	}
	for _, asset := range testAssets {
		f.fetcher.serve(asset, http.StatusOK, "asset "+asset)
	}
	opts := Options{
		Version:             "v1.0.0",
		Names:               testNames,
		StaticAssets:        testAssets,
		Storage:             f.storage,
		Fetcher:             f.fetcher,
		Lifecycle:           f.lifecycle,
		Notifier:            f.notifier,
		Logger:              logging.Discard(),
		BypassSchemes:       []string{"chrome-extension"},
		BypassHostFragments: []string{"google-analytics", "googletagmanager"},
		NotificationRoute:   "/notifications",
		PeriodicSync:        true,
		Now:                 func() time.Time { return fixedNow },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := New(opts)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) namespaceKeys(t *testing.T, name string) []string {
	t.Helper()
	ctx := context.Background()
	ok, err := f.storage.Has(ctx, name)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	ns, err := f.storage.Open(ctx, name)
	require.NoError(t, err)
	keys, err := ns.Keys(ctx)
	require.NoError(t, err)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
