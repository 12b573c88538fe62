package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewMemoryStorage 构建纯内存存储，进程退出即丢失，适用于测试与临时运行。
func NewMemoryStorage() Storage {
	return &memoryStorage{spaces: make(map[string]*memoryNamespace)}
}

type memoryStorage struct {
	mu     sync.RWMutex
	order  []string
	spaces map[string]*memoryNamespace
	closed bool
}

type memoryNamespace struct {
	name    string
	mu      sync.RWMutex
	entries map[string]Record
	dropped bool
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if ns, ok := s.spaces[name]; ok {
		return ns, nil
	}
	ns := &memoryNamespace{name: name, entries: make(map[string]Record)}
	s.spaces[name] = ns
	s.order = append(s.order, name)
	return ns, nil
}

func (s *memoryStorage) Lookup(ctx context.Context, name string) (Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ns, ok := s.spaces[name]
	if !ok {
		return nil, ErrNotFound
	}
	return ns, nil
}

func (s *memoryStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spaces[name]
	return ok, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.spaces[name]
	if !ok {
		return false, nil
	}
	delete(s.spaces, name)
	for i, existing := range s.order {
		if existing == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	// 已被删除的命名空间句柄不再接受写入，与浏览器中的 Cache 对象行为一致。
	ns.mu.Lock()
	ns.dropped = true
	ns.entries = make(map[string]Record)
	ns.mu.Unlock()
	return true, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *memoryStorage) Match(ctx context.Context, key Key) (*Response, error) {
	s.mu.RLock()
	spaces := make([]*memoryNamespace, 0, len(s.order))
	for _, name := range s.order {
		spaces = append(spaces, s.spaces[name])
	}
	s.mu.RUnlock()

	for _, ns := range spaces {
		resp, err := ns.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (n *memoryNamespace) Name() string {
	return n.name
}

func (n *memoryNamespace) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	rec, ok := n.entries[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Response.Clone(), nil
}

func (n *memoryNamespace) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errNilResponse
	}
	return n.PutAll(ctx, []Record{{Key: key, Response: *resp}})
}

func (n *memoryNamespace) PutAll(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepared := prepareRecords(records, time.Now().UTC())

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dropped {
		return ErrNotFound
	}
	for _, rec := range prepared {
		n.entries[rec.Key.String()] = rec
	}
	return nil
}

func (n *memoryNamespace) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.entries[key.String()]
	delete(n.entries, key.String())
	return ok, nil
}

func (n *memoryNamespace) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	keys := make([]Key, 0, len(n.entries))
	for _, rec := range n.entries {
		keys = append(keys, rec.Key)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
