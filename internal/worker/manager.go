package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/logging"
)

// Fetcher 是注入的网络能力。传输层失败（离线、超时）必须返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Lifecycle 是宿主为当前版本提供的生命周期控制。
type Lifecycle interface {
	// SkipWaiting 请求宿主立即激活当前版本，而不是等待已打开的页面关闭。
	SkipWaiting(ctx context.Context) error
	// Claim 让当前版本立即接管所有已打开的页面。
	Claim(ctx context.Context) error
}

// Notifier 负责展示系统通知与打开页面。
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, id string) error
	OpenWindow(ctx context.Context, route string) error
}

// Names 是当前版本的两个命名空间。
type Names struct {
	Static  string
	Dynamic string
}

// Options 汇总 Manager 的依赖与策略。
type Options struct {
	Version             string
	Names               Names
	StaticAssets        []string
	Storage             cache.Storage
	Fetcher             Fetcher
	Lifecycle           Lifecycle
	Notifier            Notifier
	Logger              *logrus.Logger
	BypassSchemes       []string
	BypassHostFragments []string
	NotificationRoute   string
	PeriodicSync        bool
	Now                 func() time.Time
}

// Manager 是一个 worker 版本的全部事件处理逻辑。
type Manager struct {
	version  string
	names    Names
	assets   []string
	storage  cache.Storage
	fetcher  Fetcher
	life     Lifecycle
	notifier Notifier
	logger   *logrus.Logger
	filter   requestFilter
	route    string
	periodic bool
	now      func() time.Time
}

// New 校验依赖并构造 Manager。
func New(opts Options) (*Manager, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Lifecycle == nil {
		return nil, errors.New("lifecycle is required")
	}
	if opts.Names.Static == "" || opts.Names.Dynamic == "" {
		return nil, errors.New("static and dynamic cache names are required")
	}
	if opts.Names.Static == opts.Names.Dynamic {
		return nil, errors.New("static and dynamic cache names must differ")
	}

	m := &Manager{
		version:  opts.Version,
		names:    opts.Names,
		assets:   append([]string(nil), opts.StaticAssets...),
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		life:     opts.Lifecycle,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		filter:   newRequestFilter(opts.BypassSchemes, opts.BypassHostFragments),
		route:    opts.NotificationRoute,
		periodic: opts.PeriodicSync,
		now:      opts.Now,
	}
	if m.notifier == nil {
		m.notifier = discardNotifier{}
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	if m.route == "" {
		m.route = defaultNotificationRoute
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Version 返回当前 worker 的缓存版本号。
func (m *Manager) Version() string {
	return m.version
}

// Names 返回当前版本的命名空间。
func (m *Manager) Names() Names {
	return m.names
}

// StaticAssets 返回预缓存清单副本。
func (m *Manager) StaticAssets() []string {
	return append([]string(nil), m.assets...)
}

func (m *Manager) event(name string) *logrus.Entry {
	return m.logger.WithFields(logging.EventFields(name, m.version))
}

// acceptsHTML 与页面脚本一致：Accept 头包含 text/html 即视为文档请求；缺失时按非 HTML 处理。
func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
