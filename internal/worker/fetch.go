package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/cache"
)

// Source 标识拦截结果的来源。
type Source string

const (
	SourcePassthrough Source = "passthrough"
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "fallback"
)

// BypassReason 说明请求为何未被拦截。
type BypassReason string

const (
	BypassNone      BypassReason = ""
	BypassMethod    BypassReason = "method"
	BypassScheme    BypassReason = "scheme"
	BypassAnalytics BypassReason = "analytics"
)

// 兜底响应内容。
const (
	OfflineHTML         = "<h1>Offline</h1><p>You are offline. Please check your connection.</p>"
	NetworkErrorMessage = "Network error occurred"
)

// FetchResult 是一次 fetch 事件的处理结果。
// Intercepted 为 false 时 Response 为空，宿主应直接请求网络。
type FetchResult struct {
	Intercepted bool
	Source      Source
	Bypass      BypassReason
	Response    *cache.Response
	// NetworkErr 记录触发兜底的网络错误。
	NetworkErr error
}

// OnFetch 处理一次被拦截的请求：缓存优先，未命中走网络，网络失败返回兜底响应。
// 被拦截的请求永远得到一个响应，失败不会向调用方传播。
func (m *Manager) OnFetch(ctx context.Context, req *http.Request) FetchResult {
	if reason := m.filter.bypass(req); reason != BypassNone {
		return FetchResult{Source: SourcePassthrough, Bypass: reason}
	}

	key := cache.NewKey(req)
	log := m.event("fetch").WithField("key", key.String())

	cached, err := m.storage.Match(ctx, key)
	switch {
	case err == nil:
		return FetchResult{Intercepted: true, Source: SourceCache, Response: cached}
	case !errors.Is(err, cache.ErrNotFound):
		log.WithError(err).Warn("cache_match_failed")
	}

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		log.WithError(err).Info("network_fetch_failed")
		return FetchResult{
			Intercepted: true,
			Source:      SourceFallback,
			Response:    m.fallback(ctx, req),
			NetworkErr:  err,
		}
	}

	if resp.Status == http.StatusOK && resp.Type == cache.ResponseTypeBasic {
		m.storeDynamic(ctx, key, resp, log)
	}
	return FetchResult{Intercepted: true, Source: SourceNetwork, Response: resp}
}

// storeDynamic 把响应副本写入运行时缓存，失败只记录日志。
func (m *Manager) storeDynamic(ctx context.Context, key cache.Key, resp *cache.Response, log *logrus.Entry) {
	ns, err := m.storage.Open(ctx, m.names.Dynamic)
	if err == nil {
		err = ns.Put(ctx, key, resp.Storable())
	}
	if err != nil {
		log.WithError(err).WithField("cache", m.names.Dynamic).Warn("dynamic_cache_put_failed")
	}
}

// fallback 为文档请求返回缓存的首页或离线页，其余请求返回 408。
func (m *Manager) fallback(ctx context.Context, req *http.Request) *cache.Response {
	if acceptsHTML(req) {
		if page, err := m.storage.Match(ctx, cache.PathKey("/")); err == nil {
			return page
		}
		return synthesize(http.StatusOK, "text/html", OfflineHTML)
	}
	return synthesize(http.StatusRequestTimeout, "text/plain", NetworkErrorMessage)
}

func synthesize(status int, contentType, body string) *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return &cache.Response{
		Status: status,
		Header: header,
		Body:   []byte(body),
		Type:   cache.ResponseTypeSynthetic,
	}
}

// requestFilter 判断请求是否应绕过 worker。
type requestFilter struct {
	schemes   map[string]struct{}
	fragments []string
}

func newRequestFilter(schemes, fragments []string) requestFilter {
	f := requestFilter{schemes: make(map[string]struct{}, len(schemes))}
	for _, s := range schemes {
		s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "://")
		if s != "" {
			f.schemes[s] = struct{}{}
		}
	}
	for _, frag := range fragments {
		frag = strings.ToLower(strings.TrimSpace(frag))
		if frag != "" {
			f.fragments = append(f.fragments, frag)
		}
	}
	return f
}

func (f requestFilter) bypass(req *http.Request) BypassReason {
	if req.Method != http.MethodGet {
		return BypassMethod
	}
	if req.URL != nil {
		if _, ok := f.schemes[strings.ToLower(req.URL.Scheme)]; ok {
			return BypassScheme
		}
	}
	full := strings.ToLower(requestURL(req))
	for _, frag := range f.fragments {
		if strings.Contains(full, frag) {
			return BypassAnalytics
		}
	}
	return BypassNone
}

// requestURL 还原请求的完整 URL，服务端请求只有 path 时补上 Host。
func requestURL(req *http.Request) string {
	if req.URL == nil {
		return req.Host
	}
	if req.URL.Host != "" {
		return req.URL.String()
	}
	return req.Host + req.URL.RequestURI()
}
