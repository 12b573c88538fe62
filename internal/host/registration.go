package host

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/logging"
	"github.com/property-predictor/offline-cache/internal/worker"
)

// State 是 worker 版本的生命周期状态。
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var (
	// ErrNoActiveWorker 表示当前没有可处理事件的激活版本。
	ErrNoActiveWorker = errors.New("no active worker")
	// ErrAlreadyInstalled 表示同名版本已处于 waiting 或 active。
	ErrAlreadyInstalled = errors.New("worker version already installed")
	// ErrNotActive 表示非激活版本尝试 Claim。
	ErrNotActive = errors.New("worker version is not active")
)

// Builder 使用宿主提供的生命周期句柄构造一个 worker 版本。
type Builder func(worker.Lifecycle) (*worker.Manager, error)

// 客户端表的默认上限。
const (
	DefaultMaxClients    = 10000
	DefaultClientIdleTTL = 30 * time.Minute
)

// Options 配置 Registration。
type Options struct {
	// Network 用于未被拦截的请求。
	Network worker.Fetcher
	Logger  *logrus.Logger
	Now     func() time.Time
	// MaxClients 限制跟踪的客户端数量，超出时淘汰最久未访问的客户端。
	MaxClients int
	// ClientIdleTTL 之内没有请求的客户端会被移除。
	ClientIdleTTL time.Duration
}

type version struct {
	name          string
	manager       *worker.Manager
	state         State
	skipRequested bool
	installedAt   time.Time
	activatedAt   time.Time
}

type client struct {
	id         string
	controller *version
	firstSeen  time.Time
	lastSeen   time.Time
}

// Registration 管理同一作用域下的全部 worker 版本与客户端。
type Registration struct {
	network worker.Fetcher
	logger  *logrus.Logger
	now     func() time.Time

	maxClients int
	clientTTL  time.Duration

	mu         sync.Mutex
	installing *version
	waiting    *version
	active     *version
	clients    map[string]*list.Element
	// recent 按最近访问排序，队首最新。
	recent *list.List
}

// NewRegistration 创建空的注册表。
func NewRegistration(opts Options) (*Registration, error) {
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	r := &Registration{
		network:    opts.Network,
		logger:     opts.Logger,
		now:        opts.Now,
		maxClients: opts.MaxClients,
		clientTTL:  opts.ClientIdleTTL,
		clients:    make(map[string]*list.Element),
		recent:     list.New(),
	}
	if r.maxClients <= 0 {
		r.maxClients = DefaultMaxClients
	}
	if r.clientTTL <= 0 {
		r.clientTTL = DefaultClientIdleTTL
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Install 构造并安装一个新版本。安装失败时该版本变为 redundant，当前激活版本继续服务；
// 安装成功后若请求了跳过等待或当前没有激活版本，则立即激活。
func (r *Registration) Install(ctx context.Context, name string, build Builder) error {
	r.mu.Lock()
	if (r.active != nil && r.active.name == name) || (r.waiting != nil && r.waiting.name == name) {
		r.mu.Unlock()
		return ErrAlreadyInstalled
	}
	r.mu.Unlock()

	v := &version{name: name, state: StateInstalling}
	manager, err := build(&lifecycle{reg: r, v: v})
	if err != nil {
		return fmt.Errorf("build worker %s: %w", name, err)
	}
	v.manager = manager

	r.mu.Lock()
	if r.installing != nil {
		r.installing.state = StateRedundant
	}
	r.installing = v
	r.mu.Unlock()

	log := r.logger.WithField("worker_version", name)
	log.Info("worker_install_started")

	if err := manager.OnInstall(ctx); err != nil {
		r.mu.Lock()
		v.state = StateRedundant
		if r.installing == v {
			r.installing = nil
		}
		r.mu.Unlock()
		log.WithError(err).Error("worker_install_rejected")
		return err
	}

	r.mu.Lock()
	if v.state == StateRedundant {
		r.mu.Unlock()
		return fmt.Errorf("worker %s superseded during install", name)
	}
	if r.installing == v {
		r.installing = nil
	}
	if r.waiting != nil {
		r.waiting.state = StateRedundant
	}
	v.state = StateWaiting
	v.installedAt = r.now()
	r.waiting = v
	promote := v.skipRequested || r.active == nil
	r.mu.Unlock()

	log.WithField("promote", promote).Info("worker_installed")
	if promote {
		return r.activate(ctx, v)
	}
	return nil
}

// activate 把 waiting 版本提升为 active 并执行其 activate 处理。
func (r *Registration) activate(ctx context.Context, v *version) error {
	r.mu.Lock()
	if r.waiting != v {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	prev := r.active
	if prev != nil {
		prev.state = StateRedundant
	}
	v.state = StateActivating
	r.active = v
	r.mu.Unlock()

	log := r.logger.WithField("worker_version", v.name)
	if prev != nil {
		log = log.WithField("replaced_version", prev.name)
	}

	err := v.manager.OnActivate(ctx)

	r.mu.Lock()
	if r.active == v {
		v.state = StateActive
		v.activatedAt = r.now()
	}
	r.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("worker_activate_failed")
		return err
	}
	log.Info("worker_activated")
	return nil
}

func (r *Registration) skipWaiting(ctx context.Context, v *version) error {
	r.mu.Lock()
	switch v.state {
	case StateInstalling:
		v.skipRequested = true
		r.mu.Unlock()
		return nil
	case StateWaiting:
		r.mu.Unlock()
		return r.activate(ctx, v)
	default:
		r.mu.Unlock()
		return nil
	}
}

func (r *Registration) claim(v *version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != v {
		return ErrNotActive
	}
	for e := r.recent.Front(); e != nil; e = e.Next() {
		e.Value.(*client).controller = v
	}
	r.logger.WithFields(logrus.Fields{
		"worker_version": v.name,
		"clients":        len(r.clients),
	}).Info("clients_claimed")
	return nil
}

// Fetch 按客户端的控制版本分派请求：受控客户端经过 worker，其余直接访问网络。
// 未见过的客户端发起页面导航时由当前激活版本控制。
func (r *Registration) Fetch(ctx context.Context, clientID string, req *http.Request) (worker.FetchResult, error) {
	ctrl := r.controllerFor(clientID, req)
	var bypass worker.BypassReason
	if ctrl != nil && ctrl.manager != nil {
		res := ctrl.manager.OnFetch(ctx, req)
		if res.Intercepted {
			return res, nil
		}
		bypass = res.Bypass
	}

	resp, err := r.network.Fetch(ctx, req)
	return worker.FetchResult{Source: worker.SourcePassthrough, Bypass: bypass, Response: resp}, err
}

func (r *Registration) controllerFor(clientID string, req *http.Request) *version {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clientID == "" {
		if isNavigation(req) {
			return r.active
		}
		return nil
	}

	now := r.now()
	var c *client
	if e, ok := r.clients[clientID]; ok {
		c = e.Value.(*client)
		r.recent.MoveToFront(e)
	} else {
		c = &client{id: clientID, firstSeen: now}
		if isNavigation(req) {
			c.controller = r.active
		}
		r.clients[clientID] = r.recent.PushFront(c)
	}
	c.lastSeen = now
	r.evictClientsLocked(now)
	return c.controller
}

// evictClientsLocked 从最久未访问的一端移除超量或空闲超时的客户端。
func (r *Registration) evictClientsLocked(now time.Time) {
	for e := r.recent.Back(); e != nil; e = r.recent.Back() {
		c := e.Value.(*client)
		if r.recent.Len() <= r.maxClients && now.Sub(c.lastSeen) <= r.clientTTL {
			return
		}
		r.recent.Remove(e)
		delete(r.clients, c.id)
	}
}

// isNavigation 判断请求是否为页面导航。
func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// Active 返回当前激活版本的 manager。
func (r *Registration) Active() (*worker.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, false
	}
	return r.active.manager, true
}

// lifecycle 是绑定到单个版本的宿主句柄。
type lifecycle struct {
	reg *Registration
	v   *version
}

func (l *lifecycle) SkipWaiting(ctx context.Context) error {
	return l.reg.skipWaiting(ctx, l.v)
}

func (l *lifecycle) Claim(context.Context) error {
	return l.reg.claim(l.v)
}
