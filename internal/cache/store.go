package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Storage 管理全部命名空间，对应浏览器中的 CacheStorage。
type Storage interface {
	// Open 返回指定命名空间，不存在时创建。
	Open(ctx context.Context, name string) (Namespace, error)

	// Lookup 返回已存在的命名空间，不存在时返回 ErrNotFound 且不会创建。
	Lookup(ctx context.Context, name string) (Namespace, error)

	// Has 判断命名空间是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个命名空间及其条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 按创建顺序返回所有命名空间名称。
	Names(ctx context.Context) ([]string, error)

	// Match 按创建顺序在所有命名空间中查找 key，首个命中即返回；未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Close 释放底层资源。
	Close() error
}

// Namespace 是单个命名缓存。
type Namespace interface {
	Name() string

	// Match 返回 key 对应响应的副本，未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入单个条目，覆盖同 key 的旧值。
	Put(ctx context.Context, key Key, resp *Response) error

	// PutAll 原子写入一组条目：要么全部可见，要么全部不可见。
	PutAll(ctx context.Context, records []Record) error

	// Delete 删除单个条目，返回删除前是否存在。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 返回全部条目 key，按字典序排列。
	Keys(ctx context.Context) ([]Key, error)
}

// ResponseType 对应 fetch 规范中的 Response.type。
type ResponseType string

const (
	// ResponseTypeBasic 同源响应，可安全缓存。
	ResponseTypeBasic ResponseType = "basic"
	// ResponseTypeOpaque 跨源响应，内容对调用方不透明，永不写入缓存。
	ResponseTypeOpaque ResponseType = "opaque"
	// ResponseTypeSynthetic 由 worker 合成的兜底响应。
	ResponseTypeSynthetic ResponseType = "synthetic"
)

// Response 是缓存中保存的响应快照。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Type   ResponseType
	URL    string
}

// OK 与 fetch 规范一致：状态码在 200-299 之间。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝响应，调用方可以自由修改返回值。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// forbiddenResponseHeaders 是不允许进入共享缓存的响应头。
var forbiddenResponseHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// Storable 返回可写入缓存的副本：去掉 Set-Cookie 等与单个用户会话绑定的头。
func (r *Response) Storable() *Response {
	cloned := r.Clone()
	if cloned == nil {
		return nil
	}
	for _, key := range forbiddenResponseHeaders {
		cloned.Header.Del(key)
	}
	return cloned
}

// Record 是一次批量写入的单元，同时也是持久化格式。
type Record struct {
	Key      Key
	Response Response
	StoredAt time.Time
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrClosed 表示存储已关闭。
var ErrClosed = errors.New("cache storage closed")
