package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/property-predictor/offline-cache/internal/cache"
)

// HTTPFetcher 是 worker 的网络能力：同源请求改写到 Origin，跨源请求原样发出并标记为 opaque。
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher 以共享 client 与源站地址构造 fetcher。
func NewHTTPFetcher(client *http.Client, origin string) (*HTTPFetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid origin: %s", origin)
	}
	return &HTTPFetcher{client: client, origin: parsed}, nil
}

// Origin 返回源站地址副本。
func (f *HTTPFetcher) Origin() *url.URL {
	cloned := *f.origin
	return &cloned
}

// Fetch 发起请求并把完整响应读入内存；传输失败（含超时）返回 error。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	target, sameOrigin := f.resolve(req)

	var body io.Reader = http.NoBody
	if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(upstreamReq.Header, req.Header)
	upstreamReq.Header.Del("Accept-Encoding")
	if req.ContentLength > 0 {
		upstreamReq.ContentLength = req.ContentLength
	}
	if sameOrigin && req.Host != "" {
		upstreamReq.Header.Set("X-Forwarded-Host", req.Host)
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	respType := cache.ResponseTypeOpaque
	if sameOrigin && strings.EqualFold(finalURL.Host, f.origin.Host) {
		respType = cache.ResponseTypeBasic
	}

	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
		Type:   respType,
		URL:    finalURL.String(),
	}, nil
}

// resolve 判断请求是否同源：相对 URL、与 Host 头一致或直接指向 Origin 的请求视为同源。
func (f *HTTPFetcher) resolve(req *http.Request) (*url.URL, bool) {
	u := req.URL
	if u == nil {
		return f.origin.ResolveReference(&url.URL{Path: "/"}), true
	}
	if u.Host == "" || strings.EqualFold(u.Host, req.Host) || strings.EqualFold(u.Host, f.origin.Host) {
		relative := &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}
		if relative.Path == "" {
			relative.Path = "/"
		}
		return f.origin.ResolveReference(relative), true
	}
	return u, false
}
