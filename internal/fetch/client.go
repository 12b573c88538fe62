package fetch

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/property-predictor/offline-cache/internal/config"
)

// 回源连接参数。源站只有一个，空闲连接上限按单主机设置。
const (
	dialTimeout        = 10 * time.Second
	maxIdleOriginConns = 32
	idleConnTimeout    = 90 * time.Second
)

// NewClient 返回 worker 与直通请求共用的 http.Client。FetchTimeout 覆盖整个交换
// （含读取正文），源站挂起时请求以超时错误结束并进入离线兜底。
func NewClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.FetchTimeout.DurationValue() > 0 {
		timeout = cfg.Global.FetchTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newOriginTransport(timeout),
	}
}

func newOriginTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: min(dialTimeout, timeout), KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   maxIdleOriginConns,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   min(dialTimeout, timeout),
		ResponseHeaderTimeout: timeout,
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
