package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Key 唯一定位一个缓存条目：方法 + 规范化后的 URL。
// 同源请求只保留 path?query，跨源请求保留完整 URL。
type Key struct {
	Method string
	URL    string
}

// String 输出 "GET /index.html" 形式，也用作持久化 key。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// NewKey 根据请求计算缓存 key。
func NewKey(req *http.Request) Key {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: normalizeURL(req.URL, req.Host)}
}

// PathKey 为站内路径构造 GET key，例如预缓存清单里的 "/index.html"。
func PathKey(p string) Key {
	u, err := url.Parse(p)
	if err != nil {
		return Key{Method: http.MethodGet, URL: p}
	}
	return Key{Method: http.MethodGet, URL: normalizeURL(u, "")}
}

// ParseKey 是 String 的逆操作，格式不合法时返回 false。
func ParseKey(raw string) (Key, bool) {
	method, rest, ok := strings.Cut(raw, " ")
	if !ok || method == "" || rest == "" {
		return Key{}, false
	}
	return Key{Method: method, URL: rest}, true
}

func normalizeURL(u *url.URL, host string) string {
	if u == nil {
		return "/"
	}
	if u.Host != "" && !strings.EqualFold(u.Host, host) {
		cross := *u
		cross.Fragment = ""
		cross.RawFragment = ""
		return cross.String()
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return p + "?" + u.RawQuery
	}
	return p
}
