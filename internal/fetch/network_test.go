package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/resource"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/version"
)

func TestNetworkMapsSameOriginToUpstream(t *testing.T) {
	var gotPath, gotCacheHeader, gotAgent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotAgent = r.Header.Get("User-Agent")
		gotCacheHeader = r.Header.Get("X-Offline-Hub-Cache")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("page"))
	}))
	defer upstream.Close()

	network := newTestNetwork(t, upstream.URL)
	req := mustRequest(t, "https://blog.example.com/posts/1?lang=en")
	req.Mode = resource.ModeNavigate
	req.Header.Set("X-Offline-Hub-Cache", "no-cache")

	resp, err := network.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/posts/1?lang=en" {
		t.Fatalf("upstream path = %q", gotPath)
	}
	if gotCacheHeader != "" {
		t.Fatalf("proxy-only header leaked upstream")
	}
	if gotAgent != version.UserAgent() {
		t.Fatalf("missing default user agent, got %q", gotAgent)
	}
	if resp.Type != resource.TypeBasic || resp.Redirected {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.URL != "https://blog.example.com/posts/1?lang=en" {
		t.Fatalf("response url not mapped back: %s", resp.URL)
	}
}

func TestNetworkDetectsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://blog.example.com/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new home"))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	network := newTestNetwork(t, upstream.URL)
	for _, path := range []string{"/old", "/public"} {
		resp, err := network.Fetch(context.Background(), mustRequest(t, "https://blog.example.com"+path))
		if err != nil {
			t.Fatalf("fetch %s: %v", path, err)
		}
		if !resp.Redirected || resp.URL != "https://blog.example.com/new" {
			t.Fatalf("%s: expected redirect to /new, got %v %s", path, resp.Redirected, resp.URL)
		}
		if string(resp.Body) != "new home" {
			t.Fatalf("%s: unexpected body %q", path, resp.Body)
		}
	}
}

func TestNetworkCrossOriginModes(t *testing.T) {
	var gotOrigin string
	allow := ""
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrigin = r.Header.Get("Origin")
		if allow != "" {
			w.Header().Set("Access-Control-Allow-Origin", allow)
		}
		w.Write([]byte("asset"))
	}))
	defer foreign.Close()

	network := newTestNetwork(t, "http://127.0.0.1:1")

	noCORS := mustRequest(t, foreign.URL+"/lib.js")
	resp, err := network.Fetch(context.Background(), noCORS)
	if err != nil {
		t.Fatalf("no-cors fetch: %v", err)
	}
	if !resp.Opaque() {
		t.Fatalf("cross-origin no-cors response should be opaque, got %s", resp.Type)
	}

	cors := noCORS.WithMode(resource.ModeCORS)
	if _, err := network.Fetch(context.Background(), cors); !errors.Is(err, ErrCORSBlocked) {
		t.Fatalf("expected ErrCORSBlocked, got %v", err)
	}
	if gotOrigin != "https://blog.example.com" {
		t.Fatalf("cors request should carry Origin, got %q", gotOrigin)
	}

	allow = "https://blog.example.com"
	resp, err = network.Fetch(context.Background(), cors)
	if err != nil {
		t.Fatalf("cors fetch: %v", err)
	}
	if resp.Type != resource.TypeCORS {
		t.Fatalf("expected cors type, got %s", resp.Type)
	}

	sameOrigin := noCORS.WithMode(resource.ModeSameOrigin)
	if _, err := network.Fetch(context.Background(), sameOrigin); !errors.Is(err, ErrModeViolation) {
		t.Fatalf("expected ErrModeViolation, got %v", err)
	}
}

func TestNetworkKeepsNonOKResponses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	network := newTestNetwork(t, upstream.URL)
	resp, err := network.Fetch(context.Background(), mustRequest(t, "https://blog.example.com/nope"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusNotFound || resp.StatusText != "Not Found" {
		t.Fatalf("unexpected response %d %q", resp.Status, resp.StatusText)
	}
}

func TestNetworkUpstreamBasePath(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer upstream.Close()

	network := newTestNetwork(t, upstream.URL+"/site/")
	resp, err := network.Fetch(context.Background(), mustRequest(t, "https://blog.example.com/a/b"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/site/a/b" {
		t.Fatalf("upstream path = %q", gotPath)
	}
	if resp.URL != "https://blog.example.com/a/b" || resp.Redirected {
		t.Fatalf("unexpected mapped url %s", resp.URL)
	}
}

func TestNetworkToPublicRespectsBaseSegment(t *testing.T) {
	network := newTestNetwork(t, "http://127.0.0.1:8080/blog")
	cases := map[string]string{
		"http://127.0.0.1:8080/blog":      "https://blog.example.com/",
		"http://127.0.0.1:8080/blog/a/b":  "https://blog.example.com/a/b",
		"http://127.0.0.1:8080/blogger/x": "https://blog.example.com/blogger/x",
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := network.ToPublic(u).String(); got != want {
			t.Fatalf("ToPublic(%s) = %s, want %s", raw, got, want)
		}
	}
}

func TestPipelineForegroundFailsFastWithDefaultRetries(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	target := closed.URL
	closed.Close()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			MaxRetries:     3,
			InitialBackoff: config.Duration(time.Second),
		},
	}
	pipeline := newRetryingPipeline(t, target, cfg)

	start := time.Now()
	_, err := pipeline.FetchAndCache(context.Background(), mustRequest(t, "https://blog.example.com/"))
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Fatalf("foreground fetch waited for retry backoff: %s", elapsed)
	}
}

func TestPipelineBackgroundFetchRetries(t *testing.T) {
	var attempts atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("fresh"))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			MaxRetries:     2,
			InitialBackoff: config.Duration(time.Millisecond),
		},
	}
	pipeline := newRetryingPipeline(t, upstream.URL, cfg)

	ctx := resource.WithRetries(context.Background())
	resp, err := pipeline.FetchAndCache(ctx, mustRequest(t, "https://blog.example.com/"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !resp.OK() || string(resp.Body) != "fresh" {
		t.Fatalf("unexpected response %d %q", resp.Status, resp.Body)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected retry inside the client, got %d attempts", got)
	}
}

func newRetryingPipeline(t *testing.T, upstreamRaw string, cfg *config.Config) *Pipeline {
	t.Helper()
	origin, _ := url.Parse("https://blog.example.com")
	upstream, err := url.Parse(upstreamRaw)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	network := NewNetwork(&http.Client{}, origin, upstream, WithClientWrapper(func(c *http.Client) *http.Client {
		return server.NewRetryingClient(c, cfg, quietLogger())
	}))
	store, err := cache.NewStore(t.TempDir(), "blog")
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	meta := &memTimestamps{records: make(map[string]time.Time)}
	return NewPipeline(network, store, meta, origin, quietLogger())
}

func newTestNetwork(t *testing.T, upstreamRaw string) *Network {
	t.Helper()
	origin, err := url.Parse("https://blog.example.com")
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	upstream, err := url.Parse(upstreamRaw)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}
	return NewNetwork(&http.Client{}, origin, upstream)
}
