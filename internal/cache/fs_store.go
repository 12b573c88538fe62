package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// 目录布局：
//
//	<basePath>/<name>/.namespace          # 创建时间（UnixNano），决定枚举顺序
//	<basePath>/<name>/<sha1(key)>.entry   # gob(Record)
const (
	fsMarkerFile  = ".namespace"
	fsEntrySuffix = ".entry"
)

// NewFSStorage 以 basePath 为根目录构建磁盘缓存，每个命名空间一个子目录。
func NewFSStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsStorage 通过 entryLock 避免同一条目并发写入；命名空间级操作由 nsMu 串行化。
type fsStorage struct {
	basePath string

	nsMu sync.RWMutex
	// lastStamp 保证同一进程内创建顺序严格递增，即使时钟精度不足。
	lastStamp int64

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsNamespace struct {
	name    string
	storage *fsStorage
}

func (s *fsStorage) Open(ctx context.Context, name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	dir := s.namespaceDir(name)
	marker := filepath.Join(dir, fsMarkerFile)
	if _, err := os.Stat(marker); err == nil {
		return &fsNamespace{name: name, storage: s}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	now := time.Now().UnixNano()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	stamp := strconv.FormatInt(now, 10)
	if err := writeFileAtomic(dir, marker, []byte(stamp)); err != nil {
		return nil, err
	}
	return &fsNamespace{name: name, storage: s}, nil
}

func (s *fsStorage) Lookup(ctx context.Context, name string) (Namespace, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &fsNamespace{name: name, storage: s}, nil
}

func (s *fsStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if validateName(name) != nil {
		return false, nil
	}
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	return s.hasLocked(name)
}

func (s *fsStorage) hasLocked(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.namespaceDir(name), fsMarkerFile))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *fsStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if validateName(name) != nil {
		return false, nil
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	ok, err := s.hasLocked(name)
	if err != nil || !ok {
		return false, err
	}
	// 先改名再删除：改名是原子的，之后即使 RemoveAll 失败也不会被当成有效命名空间。
	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(trash, "ns")
	if err := os.Rename(s.namespaceDir(name), target); err != nil {
		os.Remove(trash)
		return false, err
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("cleanup deleted cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fsStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	type named struct {
		name  string
		stamp int64
	}
	var found []named
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, entry.Name(), fsMarkerFile))
		if err != nil {
			continue
		}
		stamp, _ := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		found = append(found, named{name: entry.Name(), stamp: stamp})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].stamp == found[j].stamp {
			return found[i].name < found[j].name
		}
		return found[i].stamp < found[j].stamp
	})

	names := make([]string, len(found))
	for i, item := range found {
		names[i] = item.name
	}
	return names, nil
}

func (s *fsStorage) Match(ctx context.Context, key Key) (*Response, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		ns := &fsNamespace{name: name, storage: s}
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

func (s *fsStorage) Close() error {
	return nil
}

func (n *fsNamespace) Name() string {
	return n.name
}

func (n *fsNamespace) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(n.storage.entryPath(n.name, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	return &rec.Response, nil
}

func (n *fsNamespace) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errNilResponse
	}
	return n.PutAll(ctx, []Record{{Key: key, Response: *resp}})
}

// PutAll 先写完全部临时文件，再逐个 rename；rename 之前的任何失败都不会留下可见条目。
func (n *fsNamespace) PutAll(ctx context.Context, records []Record) error {
	s := n.storage
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ok, err := s.hasLocked(n.name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	dir := s.namespaceDir(n.name)
	type staged struct {
		temp   string
		target string
		unlock func()
	}
	var pending []staged
	cleanup := func() {
		for _, item := range pending {
			os.Remove(item.temp)
			item.unlock()
		}
	}

	// 同一批次内重复 key 以最后一条为准；按路径排序加锁，避免并发批次互相死锁。
	byTarget := make(map[string]Record, len(records))
	for _, rec := range prepareRecords(records, time.Now().UTC()) {
		byTarget[s.entryPath(n.name, rec.Key)] = rec
	}
	targets := make([]string, 0, len(byTarget))
	for target := range byTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		encoded, err := encodeRecord(byTarget[target])
		if err != nil {
			cleanup()
			return err
		}
		unlock := s.lockEntry(target)
		temp, err := writeTemp(dir, encoded)
		if err != nil {
			unlock()
			cleanup()
			return err
		}
		pending = append(pending, staged{temp: temp, target: target, unlock: unlock})
	}

	var renameErr error
	for _, item := range pending {
		if renameErr == nil {
			if err := os.Rename(item.temp, item.target); err != nil {
				renameErr = err
			}
		}
		if renameErr != nil {
			os.Remove(item.temp)
		}
		item.unlock()
	}
	return renameErr
}

func (n *fsNamespace) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target := n.storage.entryPath(n.name, key)
	unlock := n.storage.lockEntry(target)
	defer unlock()

	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (n *fsNamespace) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(n.storage.namespaceDir(n.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []Key
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fsEntrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(n.storage.namespaceDir(n.name), entry.Name()))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			continue
		}
		keys = append(keys, rec.Key)
	}
	sortKeys(keys)
	return keys, nil
}

func (s *fsStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fsStorage) namespaceDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *fsStorage) entryPath(name string, key Key) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(s.namespaceDir(name), hex.EncodeToString(sum[:])+fsEntrySuffix)
}

func writeTemp(dir string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func writeFileAtomic(dir, target string, data []byte) error {
	temp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(temp, target); err != nil {
		os.Remove(temp)
		return err
	}
	return nil
}
