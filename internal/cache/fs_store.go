package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/offline-hub/internal/resource"
)

// NewStore 以 basePath/cacheName 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath, cacheName string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	cacheName = strings.TrimSpace(cacheName)
	if cacheName == "" || strings.ContainsAny(cacheName, `/\`) {
		return nil, fmt.Errorf("invalid cache name: %q", cacheName)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	root := filepath.Join(abs, cacheName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		root:  root,
		locks: make(map[string]*entryLock),
		now:   time.Now,
	}, nil
}

// fileStore 通过 entryLock 串行化同一缓存键的写入，读取持共享锁，保证正文与元数据成对可见。
type fileStore struct {
	root string
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.RWMutex
	refs int
}

func (s *fileStore) Match(ctx context.Context, req *resource.Request, opts MatchOptions) (*resource.Response, error) {
	if req == nil || req.URL == nil {
		return nil, ErrNotFound
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, ErrNotFound
	}
	record, body, err := s.read(ctx, req.Key())
	if err != nil {
		return nil, err
	}
	if !opts.IgnoreVary && !varyMatches(record, req.Header) {
		return nil, ErrNotFound
	}
	return toResponse(record, body), nil
}

func (s *fileStore) MatchKey(ctx context.Context, key string) (*resource.Response, error) {
	record, body, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return toResponse(record, body), nil
}

func (s *fileStore) Put(ctx context.Context, req *resource.Request, resp *resource.Response) error {
	if req == nil || req.URL == nil || resp == nil {
		return ErrNotCacheable
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return ErrNotCacheable
	}
	if req.Cache == resource.CacheNoStore {
		return ErrNotCacheable
	}

	key := req.Key()
	unlock := s.lockEntry(key)
	defer unlock()

	metaPath, bodyPath := s.paths(key)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}

	written, err := writeAtomic(ctx, bodyPath, bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	record := Record{
		Key:        key,
		URL:        key,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Header:     resp.Header.Clone(),
		Vary:       snapshotVary(resp.Header, req.Header),
		SizeBytes:  written,
		StoredAt:   s.now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := writeAtomic(ctx, metaPath, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lockEntry(key)
	defer unlock()

	metaPath, bodyPath := s.paths(key)
	// 先删元数据：即使正文删除失败，条目也已不可见。
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) read(ctx context.Context, key string) (Record, []byte, error) {
	select {
	case <-ctx.Done():
		return Record{}, nil, ctx.Err()
	default:
	}

	unlock := s.rlockEntry(key)
	defer unlock()

	metaPath, bodyPath := s.paths(key)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil, ErrNotFound
		}
		return Record{}, nil, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	if record.Key != key {
		return Record{}, nil, ErrNotFound
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil, ErrNotFound
		}
		return Record{}, nil, err
	}
	return record, body, nil
}

func (s *fileStore) lockEntry(key string) func() {
	return s.acquire(key, false)
}

func (s *fileStore) rlockEntry(key string) func() {
	return s.acquire(key, true)
}

func (s *fileStore) acquire(key string, shared bool) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	if shared {
		lock.mu.RLock()
	} else {
		lock.mu.Lock()
	}
	return func() {
		if shared {
			lock.mu.RUnlock()
		} else {
			lock.mu.Unlock()
		}
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// paths 使用缓存键的 sha1 作为文件名，规避任意 URL 映射到文件系统时的目录冲突。
func (s *fileStore) paths(key string) (string, string) {
	sum := sha1.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])
	base := filepath.Join(s.root, name[:2], name)
	return base + ".json", base + ".body"
}

func toResponse(record Record, body []byte) *resource.Response {
	header := record.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &resource.Response{
		Status:     record.Status,
		StatusText: record.StatusText,
		Header:     header,
		Body:       body,
		URL:        record.URL,
		Type:       resource.TypeBasic,
	}
}

// snapshotVary 记录响应 Vary 头所列请求头在写入时的取值。
func snapshotVary(respHeader, reqHeader http.Header) map[string][]string {
	names := varyNames(respHeader)
	if len(names) == 0 {
		return nil
	}
	snapshot := make(map[string][]string, len(names))
	for _, name := range names {
		if name == "*" {
			snapshot[name] = nil
			continue
		}
		snapshot[name] = append([]string(nil), reqHeader.Values(name)...)
	}
	return snapshot
}

func varyMatches(record Record, reqHeader http.Header) bool {
	for name, stored := range record.Vary {
		if name == "*" {
			return false
		}
		current := reqHeader.Values(name)
		if strings.Join(current, ",") != strings.Join(stored, ",") {
			return false
		}
	}
	return true
}

func varyNames(header http.Header) []string {
	var names []string
	for _, value := range header.Values("Vary") {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part == "*" {
				names = append(names, part)
				continue
			}
			names = append(names, textproto.CanonicalMIMEHeaderKey(part))
		}
	}
	return names
}

func writeAtomic(ctx context.Context, target string, body io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
