package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/any-hub/offline-hub/internal/resource"
)

func TestStorePutAndMatch(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/posts/1#comments")

	resp := &resource.Response{
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"text/html"}, "Last-Modified": []string{"Mon, 02 Jan 2006 15:04:05 GMT"}},
		Body:       []byte("<html>post</html>"),
	}
	if err := store.Put(context.Background(), req, resp); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := store.Match(context.Background(), mustRequest(t, "https://blog.example.com/posts/1"), MatchOptions{})
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "<html>post</html>" {
		t.Fatalf("cached payload mismatch: %s", string(got.Body))
	}
	if got.Status != http.StatusOK || got.Header.Get("Last-Modified") == "" {
		t.Fatalf("unexpected cached response: %+v", got)
	}
	if got.URL != "https://blog.example.com/posts/1" {
		t.Fatalf("unexpected url: %s", got.URL)
	}
}

func TestStoreMatchMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Match(context.Background(), mustRequest(t, "https://blog.example.com/missing"), MatchOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MatchKey(context.Background(), "https://blog.example.com/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from MatchKey, got %v", err)
	}
}

func TestStorePutOverwrites(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/")
	for _, body := range []string{"v1", "v2"} {
		if err := store.Put(context.Background(), req, &resource.Response{Status: 200, Body: []byte(body)}); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	got, err := store.MatchKey(context.Background(), req.Key())
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	if string(got.Body) != "v2" {
		t.Fatalf("expected latest body, got %s", string(got.Body))
	}
}

func TestStoreRefusesUncacheableRequests(t *testing.T) {
	store := newTestStore(t)

	post := mustRequest(t, "https://blog.example.com/api")
	post.Method = http.MethodPost
	if err := store.Put(context.Background(), post, &resource.Response{Status: 200}); !errors.Is(err, ErrNotCacheable) {
		t.Fatalf("expected ErrNotCacheable for POST, got %v", err)
	}

	noStore := mustRequest(t, "https://blog.example.com/secret")
	noStore.Cache = resource.CacheNoStore
	if err := store.Put(context.Background(), noStore, &resource.Response{Status: 200}); !errors.Is(err, ErrNotCacheable) {
		t.Fatalf("expected ErrNotCacheable for no-store, got %v", err)
	}
	if _, err := store.MatchKey(context.Background(), noStore.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no-store request must not be persisted, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/old")
	if err := store.Put(context.Background(), req, &resource.Response{Status: 200, Body: []byte("data")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Delete(context.Background(), req.Key()); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := store.MatchKey(context.Background(), req.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), req.Key()); err != nil {
		t.Fatalf("deleting a missing key should succeed, got %v", err)
	}
}

func TestStoreVaryMatching(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/feed")
	req.Header.Set("Accept-Language", "en")
	resp := &resource.Response{
		Status: 200,
		Header: http.Header{"Vary": []string{"accept-language"}},
		Body:   []byte("english"),
	}
	if err := store.Put(context.Background(), req, resp); err != nil {
		t.Fatalf("put error: %v", err)
	}

	same := mustRequest(t, "https://blog.example.com/feed")
	same.Header.Set("Accept-Language", "en")
	if _, err := store.Match(context.Background(), same, MatchOptions{}); err != nil {
		t.Fatalf("expected vary match, got %v", err)
	}

	other := mustRequest(t, "https://blog.example.com/feed")
	other.Header.Set("Accept-Language", "de")
	if _, err := store.Match(context.Background(), other, MatchOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected vary mismatch, got %v", err)
	}
	if _, err := store.Match(context.Background(), other, MatchOptions{IgnoreVary: true}); err != nil {
		t.Fatalf("expected match when ignoring vary, got %v", err)
	}
}

func TestStoreVaryStarNeverMatches(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/random")
	if err := store.Put(context.Background(), req, &resource.Response{Status: 200, Header: http.Header{"Vary": []string{"*"}}}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := store.Match(context.Background(), req, MatchOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected Vary: * to miss, got %v", err)
	}
	if _, err := store.Match(context.Background(), req, MatchOptions{IgnoreVary: true}); err != nil {
		t.Fatalf("expected IgnoreVary to hit, got %v", err)
	}
}

func TestStoreMissingBodyIsMiss(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/partial")
	if err := store.Put(context.Background(), req, &resource.Response{Status: 200, Body: []byte("x")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	_, bodyPath := fs.paths(req.Key())
	if err := os.Remove(bodyPath); err != nil {
		t.Fatalf("remove body: %v", err)
	}
	if _, err := store.MatchKey(context.Background(), req.Key()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without body, got %v", err)
	}
}

func TestStoreLayoutUsesCacheName(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base, "blog")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	req := mustRequest(t, "https://blog.example.com/")
	if err := store.Put(context.Background(), req, &resource.Response{Status: 200}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	metaPath, _ := store.(*fileStore).paths(req.Key())
	rel, err := filepath.Rel(filepath.Join(base, "blog"), metaPath)
	if err != nil || filepath.IsAbs(rel) || rel[:2] == ".." {
		t.Fatalf("metadata outside cache namespace: %s", metaPath)
	}
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("stat metadata: %v", err)
	}
}

func TestNewStoreRejectsInvalidCacheName(t *testing.T) {
	if _, err := NewStore(t.TempDir(), "../escape"); err == nil {
		t.Fatalf("expected error for cache name with separators")
	}
	if _, err := NewStore("", "blog"); err == nil {
		t.Fatalf("expected error for empty storage path")
	}
}

func TestStoreConcurrentPuts(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/hot")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Put(context.Background(), req, &resource.Response{Status: 200, Body: []byte("same")}); err != nil {
				t.Errorf("put error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.MatchKey(context.Background(), req.Key())
	if err != nil || string(got.Body) != "same" {
		t.Fatalf("unexpected result after concurrent puts: %v %v", got, err)
	}
}

func TestStoreMatchNeverMixesEntries(t *testing.T) {
	store := newTestStore(t)
	req := mustRequest(t, "https://blog.example.com/hot")
	versions := []*resource.Response{
		{Status: 200, Header: http.Header{"X-V": []string{"1"}}, Body: []byte(strings.Repeat("a", 10))},
		{Status: 200, Header: http.Header{"X-V": []string{"2"}}, Body: []byte(strings.Repeat("b", 20000))},
	}
	if err := store.Put(context.Background(), req, versions[0]); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := store.Put(context.Background(), req, versions[i%2]); err != nil {
				t.Errorf("put error: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		got, err := store.Match(context.Background(), req, MatchOptions{})
		if err != nil {
			t.Fatalf("match error: %v", err)
		}
		want := 10
		if got.Header.Get("X-V") == "2" {
			want = 20000
		}
		if len(got.Body) != want {
			close(done)
			wg.Wait()
			t.Fatalf("header X-V=%s paired with %d byte body", got.Header.Get("X-V"), len(got.Body))
		}
	}
	close(done)
	wg.Wait()
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "blog")
	if err != nil {
		t.Fatalf("store init error: %v", err)
	}
	return store
}

func mustRequest(t *testing.T, raw string) *resource.Request {
	t.Helper()
	req, err := resource.NewRequest("GET", raw)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	return req
}
