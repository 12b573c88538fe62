package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/worker"
)

type stubNetwork struct {
	mu      sync.Mutex
	bodies  map[string]string
	offline bool
	calls   int
	last    *http.Request
}

func newStubNetwork() *stubNetwork {
	return &stubNetwork{bodies: map[string]string{
		"/":           "<html>home</html>",
		"/index.html": "<html>index</html>",
		"/locations":  `["Pune","Mumbai"]`,
	}}
}

func (s *stubNetwork) Fetch(_ context.Context, req *http.Request) (*cache.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.offline {
		return nil, errors.New("connection refused")
	}
	body, ok := s.bodies[req.URL.RequestURI()]
	if !ok {
		return &cache.Response{Status: http.StatusNotFound, Header: http.Header{}, Type: cache.ResponseTypeBasic}, nil
	}
	return &cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte(body), Type: cache.ResponseTypeBasic}, nil
}

func (s *stubNetwork) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	reg     *Registration
	storage cache.Storage
	network *stubNetwork
	inbox   *Inbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	network := newStubNetwork()
	reg, err := NewRegistration(Options{Network: network})
	require.NoError(t, err)
	return &harness{
		reg:     reg,
		storage: cache.NewMemoryStorage(),
		network: network,
		inbox:   NewInbox(nil, 0),
	}
}

func (h *harness) builder(version string, assets ...string) Builder {
	if len(assets) == 0 {
		assets = []string{"/", "/index.html"}
	}
	return func(life worker.Lifecycle) (*worker.Manager, error) {
		return worker.New(worker.Options{
			Version: version,
			Names: worker.Names{
				Static:  "app-static-" + version,
				Dynamic: "app-dynamic-" + version,
			},
			StaticAssets: assets,
			Storage:      h.storage,
			Fetcher:      h.network,
			Lifecycle:    life,
			Notifier:     h.inbox,
			PeriodicSync: true,
		})
	}
}

func navigation(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html")
	return req
}

func TestInstallActivatesFirstVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))

	st := h.reg.Status()
	require.NotNil(t, st.Active)
	require.Equal(t, "v1", st.Active.Version)
	require.Equal(t, StateActive, st.Active.State)
	require.Equal(t, "app-static-v1", st.Active.StaticCache)
	require.Nil(t, st.Waiting)
	require.Nil(t, st.Installing)

	names, err := h.storage.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"app-static-v1"}, names)
}

func TestInstallRejectsDuplicateVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))
	require.ErrorIs(t, h.reg.Install(ctx, "v1", h.builder("v1")), ErrAlreadyInstalled)
}

func TestFailedInstallKeepsActiveVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))

	err := h.reg.Install(ctx, "v2", h.builder("v2", "/", "/missing.png"))
	require.ErrorIs(t, err, worker.ErrInstallFailed)

	st := h.reg.Status()
	require.Equal(t, "v1", st.Active.Version)
	require.Nil(t, st.Waiting)
	require.Nil(t, st.Installing)

	res, err := h.reg.Fetch(ctx, "client-a", navigation("/index.html"))
	require.NoError(t, err)
	require.Equal(t, worker.SourceCache, res.Source)
}

func TestUpgradePurgesOldCachesAndClaimsClients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))

	// 非导航请求的新客户端不受控制。
	res, err := h.reg.Fetch(ctx, "client-a", httptest.NewRequest(http.MethodGet, "/locations", nil))
	require.NoError(t, err)
	require.Equal(t, worker.SourcePassthrough, res.Source)
	require.Equal(t, 0, h.reg.Status().Controlled)

	require.NoError(t, h.reg.Install(ctx, "v2", h.builder("v2")))

	st := h.reg.Status()
	require.Equal(t, "v2", st.Active.Version)
	require.Equal(t, 1, st.Clients)
	require.Equal(t, 1, st.Controlled)

	names, err := h.storage.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"app-static-v2"}, names)

	res, err = h.reg.Fetch(ctx, "client-a", httptest.NewRequest(http.MethodGet, "/locations", nil))
	require.NoError(t, err)
	require.Equal(t, worker.SourceNetwork, res.Source)
}

func TestFetchRouting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.reg.Fetch(ctx, "early", navigation("/"))
	require.NoError(t, err)
	require.Equal(t, worker.SourcePassthrough, res.Source)
	require.Equal(t, "<html>home</html>", string(res.Response.Body))

	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))
	calls := h.network.callCount()

	res, err = h.reg.Fetch(ctx, "client-b", navigation("/"))
	require.NoError(t, err)
	require.Equal(t, worker.SourceCache, res.Source)
	require.Equal(t, calls, h.network.callCount())

	post := httptest.NewRequest(http.MethodPost, "/predict", nil)
	post.Header.Set("X-Trace", "abc")
	res, err = h.reg.Fetch(ctx, "client-b", post)
	require.NoError(t, err)
	require.Equal(t, worker.SourcePassthrough, res.Source)
	require.Equal(t, worker.BypassMethod, res.Bypass)
	require.Equal(t, http.StatusNotFound, res.Response.Status)
	// 直通请求原样交给网络。
	require.Same(t, post, h.network.last)
	require.Equal(t, "abc", h.network.last.Header.Get("X-Trace"))
}

func TestPassthroughNetworkErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.network.offline = true
	_, err := h.reg.Fetch(context.Background(), "c", httptest.NewRequest(http.MethodGet, "/locations", nil))
	require.Error(t, err)
}

func TestControlledClientGetsOfflineFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))
	h.network.offline = true

	res, err := h.reg.Fetch(ctx, "client-c", navigation("/dashboard"))
	require.NoError(t, err)
	require.Equal(t, worker.SourceFallback, res.Source)
	require.Equal(t, "<html>home</html>", string(res.Response.Body))
}

func TestEventsRequireActiveWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.reg.Push(ctx, []byte(`{"title":"a","body":"b"}`))
	require.ErrorIs(t, err, ErrNoActiveWorker)
	require.ErrorIs(t, h.reg.Sync(ctx, worker.SyncTagPredictions), ErrNoActiveWorker)
	require.ErrorIs(t, h.reg.PeriodicSync(ctx, worker.PeriodicTagUpdateCache), ErrNoActiveWorker)
	require.ErrorIs(t, h.reg.Message(ctx, worker.Message{Type: worker.MessageSkipWaiting}), ErrNoActiveWorker)
	require.ErrorIs(t, h.reg.NotificationClick(ctx, worker.NotificationClick{}), ErrNoActiveWorker)
}

func TestPushAndClickThroughInbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.reg.Install(ctx, "v1", h.builder("v1")))

	outcome, err := h.reg.Push(ctx, []byte(`{"title":"Estimate ready","body":"Your prediction finished"}`))
	require.NoError(t, err)
	require.Equal(t, worker.PushShown, outcome)

	entries := h.inbox.Notifications()
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].ClosedAt)

	id := entries[0].Notification.ID
	require.NoError(t, h.reg.NotificationClick(ctx, worker.NotificationClick{NotificationID: id, Action: worker.ActionExplore}))

	entries = h.inbox.Notifications()
	require.NotNil(t, entries[0].ClosedAt)
	windows := h.inbox.Windows()
	require.Len(t, windows, 1)
	require.Equal(t, "/notifications", windows[0].Route)

	require.NoError(t, h.reg.Message(ctx, worker.Message{Type: worker.MessageSkipWaiting}))
	require.Equal(t, StateActive, h.reg.Status().Active.State)
}

func TestInboxIsBounded(t *testing.T) {
	inbox := NewInbox(nil, 2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, inbox.ShowNotification(ctx, worker.Notification{ID: id}))
	}
	entries := inbox.Notifications()
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].Notification.ID)
	require.Equal(t, "c", entries[1].Notification.ID)
}

func TestClientTableIsCapped(t *testing.T) {
	reg, err := NewRegistration(Options{Network: newStubNetwork(), MaxClients: 3})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := reg.Fetch(ctx, fmt.Sprintf("one-shot-%d", i), navigation("/"))
		require.NoError(t, err)
	}
	require.Equal(t, 3, reg.Status().Clients)

	// 最近访问的客户端保留，最早的被淘汰。
	reg.mu.Lock()
	_, newest := reg.clients["one-shot-99"]
	_, oldest := reg.clients["one-shot-0"]
	reg.mu.Unlock()
	require.True(t, newest)
	require.False(t, oldest)
}

func TestIdleClientsExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	reg, err := NewRegistration(Options{
		Network:       newStubNetwork(),
		ClientIdleTTL: time.Hour,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.Fetch(ctx, "idle", navigation("/"))
	require.NoError(t, err)
	_, err = reg.Fetch(ctx, "busy", navigation("/"))
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, err = reg.Fetch(ctx, "busy", navigation("/"))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = reg.Fetch(ctx, "fresh", navigation("/"))
	require.NoError(t, err)

	reg.mu.Lock()
	_, idle := reg.clients["idle"]
	_, busy := reg.clients["busy"]
	reg.mu.Unlock()
	require.False(t, idle)
	require.True(t, busy)
	require.Equal(t, 2, reg.Status().Clients)
}
