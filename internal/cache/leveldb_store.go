package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB 布局：
//
//	n:<name>                 -> 8 字节大端创建序号
//	e:<name>\x00<Key.String> -> gob(Record)
//
// 命名空间的删除与批量写入都通过单个 leveldb.Batch 完成，保证原子性。
const (
	levelNamespacePrefix = "n:"
	levelEntryPrefix     = "e:"
)

// NewLevelDBStorage 在 path 下打开（或创建）LevelDB 数据库。
func NewLevelDBStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	s := &levelStorage{db: db, seqs: make(map[string]uint64)}
	if err := s.loadNamespaces(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

type levelStorage struct {
	db *leveldb.DB

	// mu 保护命名空间索引；条目读写直接交给 LevelDB 自身的并发控制。
	mu      sync.RWMutex
	seqs    map[string]uint64
	nextSeq uint64
}

type levelNamespace struct {
	name    string
	storage *levelStorage
}

func (s *levelStorage) loadNamespaces() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(levelNamespacePrefix)), nil)
	defer it.Release()

	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(levelNamespacePrefix)))
		if len(it.Value()) != 8 {
			continue
		}
		seq := binary.BigEndian.Uint64(it.Value())
		s.seqs[name] = seq
		if seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}
	}
	return it.Error()
}

func (s *levelStorage) Open(ctx context.Context, name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seqs[name]; !ok {
		seq := s.nextSeq
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		if err := s.db.Put(namespaceKey(name), buf, nil); err != nil {
			return nil, translateLevelErr(err)
		}
		s.seqs[name] = seq
		s.nextSeq++
	}
	return &levelNamespace{name: name, storage: s}, nil
}

func (s *levelStorage) Lookup(ctx context.Context, name string) (Namespace, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &levelNamespace{name: name, storage: s}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seqs[name]
	return ok, nil
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seqs[name]; !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete(namespaceKey(name))
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, translateLevelErr(err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, translateLevelErr(err)
	}
	delete(s.seqs, name)
	return true, nil
}

func (s *levelStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.seqs))
	for name := range s.seqs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.seqs[names[i]] < s.seqs[names[j]]
	})
	return names, nil
}

func (s *levelStorage) Match(ctx context.Context, key Key) (*Response, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		ns := &levelNamespace{name: name, storage: s}
		resp, err := ns.Match(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *levelStorage) Close() error {
	return s.db.Close()
}

func (s *levelStorage) exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seqs[name]
	return ok
}

func (n *levelNamespace) Name() string {
	return n.name
}

func (n *levelNamespace) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := n.storage.db.Get(entryKey(n.name, key), nil)
	if err != nil {
		return nil, translateLevelErr(err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return &rec.Response, nil
}

func (n *levelNamespace) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errNilResponse
	}
	return n.PutAll(ctx, []Record{{Key: key, Response: *resp}})
}

func (n *levelNamespace) PutAll(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, rec := range prepareRecords(records, time.Now().UTC()) {
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		batch.Put(entryKey(n.name, rec.Key), encoded)
	}

	// 持有读锁写入，避免与命名空间删除交错产生孤儿条目。
	n.storage.mu.RLock()
	defer n.storage.mu.RUnlock()
	if _, ok := n.storage.seqs[n.name]; !ok {
		return ErrNotFound
	}
	return translateLevelErr(n.storage.db.Write(batch, nil))
}

func (n *levelNamespace) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := entryKey(n.name, key)
	ok, err := n.storage.db.Has(k, nil)
	if err != nil || !ok {
		return false, translateLevelErr(err)
	}
	if err := n.storage.db.Delete(k, nil); err != nil {
		return false, translateLevelErr(err)
	}
	return true, nil
}

func (n *levelNamespace) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !n.storage.exists(n.name) {
		return nil, nil
	}
	prefix := entryPrefix(n.name)
	it := n.storage.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []Key
	for it.Next() {
		if key, ok := ParseKey(string(bytes.TrimPrefix(it.Key(), prefix))); ok {
			keys = append(keys, key)
		}
	}
	if err := it.Error(); err != nil {
		return nil, translateLevelErr(err)
	}
	sortKeys(keys)
	return keys, nil
}

func namespaceKey(name string) []byte {
	return []byte(levelNamespacePrefix + name)
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + "\x00")
}

func entryKey(name string, key Key) []byte {
	return append(entryPrefix(name), key.String()...)
}

func translateLevelErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
