package proxy_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/proxy"
	"github.com/sandrolain/rfccache/storage"
	"github.com/sandrolain/rfccache/storage/memstore"
)

// stubSender answers a fixed sequence of responses per URL path, counting
// how many times each path was actually sent to the "origin" so tests can
// assert a cache hit skipped the round trip entirely.
type stubSender struct {
	mu    sync.Mutex
	calls map[string]int
	fns   map[string]func(*rfccache.Request) (*rfccache.Response, error)
}

func newStubSender() *stubSender {
	return &stubSender{calls: map[string]int{}, fns: map[string]func(*rfccache.Request) (*rfccache.Response, error){}}
}

func (s *stubSender) handle(path string, fn func(*rfccache.Request) (*rfccache.Response, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[path] = fn
}

func (s *stubSender) callCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *stubSender) Send(_ context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	s.mu.Lock()
	s.calls[req.URL.Path]++
	fn := s.fns[req.URL.Path]
	s.mu.Unlock()
	if fn == nil {
		return rfccache.NewResponse(http.StatusNotFound, nil, nil), nil
	}
	return fn(req)
}

func mustRequest(t *testing.T, method, rawURL string) *rfccache.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return rfccache.NewRequest(method, u, http.Header{})
}

func newBlocking(t *testing.T, sender proxy.Sender) (*proxy.Blocking, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	b, err := proxy.NewBlocking(proxy.Config{Storage: store, Sender: sender})
	if err != nil {
		t.Fatalf("NewBlocking: %v", err)
	}
	return b, store
}

func TestFreshHitServesWithoutContactingOrigin(t *testing.T) {
	sender := newStubSender()
	sender.handle("/fresh", func(*rfccache.Request) (*rfccache.Response, error) {
		resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, []byte("hello"))
		return resp, nil
	})
	b, _ := newBlocking(t, sender)

	req := mustRequest(t, http.MethodGet, "http://example.com/fresh")
	first, err := b.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if first.Metadata.FromCache {
		t.Fatalf("first request should be a miss, got FromCache=true")
	}
	if !first.Metadata.Stored {
		t.Fatalf("storable response should be recorded as stored")
	}

	second, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/fresh"))
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if !second.Metadata.FromCache {
		t.Fatalf("second request should be served from cache")
	}
	if got := sender.callCount("/fresh"); got != 1 {
		t.Fatalf("origin should be contacted exactly once, got %d calls", got)
	}
	if string(second.Body) != "hello" {
		t.Fatalf("cached body mismatch: got %q", second.Body)
	}
}

func TestRevalidationFreshensOnNotModified(t *testing.T) {
	sender := newStubSender()
	first := true
	sender.handle("/etag", func(req *rfccache.Request) (*rfccache.Response, error) {
		if first {
			first = false
			return rfccache.NewResponse(http.StatusOK, http.Header{
				"Cache-Control": {"max-age=0, must-revalidate"},
				"ETag":          {`"v1"`},
			}, []byte("v1 body")), nil
		}
		if req.Header.Get("If-None-Match") == `"v1"` {
			return rfccache.NewResponse(http.StatusNotModified, http.Header{"ETag": {`"v1"`}}, nil), nil
		}
		return rfccache.NewResponse(http.StatusOK, nil, []byte("unexpected")), nil
	})
	b, _ := newBlocking(t, sender)

	if _, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/etag")); err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	resp, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/etag"))
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if !resp.Metadata.FromCache || !resp.Metadata.Revalidated {
		t.Fatalf("expected a revalidated cache hit, got %+v", resp.Metadata)
	}
	if string(resp.Body) != "v1 body" {
		t.Fatalf("freshened entry should keep its stored body, got %q", resp.Body)
	}
	if got := sender.callCount("/etag"); got != 2 {
		t.Fatalf("expected exactly one revalidation round trip, got %d total calls", got)
	}
}

func TestSupersedingRevalidationReplacesEntryWithoutRefetch(t *testing.T) {
	sender := newStubSender()
	sender.handle("/changed", func(req *rfccache.Request) (*rfccache.Response, error) {
		if req.Header.Get("If-None-Match") == `"old"` {
			return rfccache.NewResponse(http.StatusOK, http.Header{
				"Cache-Control": {"max-age=3600"},
				"ETag":          {`"new"`},
			}, []byte("new body")), nil
		}
		return rfccache.NewResponse(http.StatusOK, http.Header{
			"Cache-Control": {"max-age=0, must-revalidate"},
			"ETag":          {`"old"`},
		}, []byte("old body")), nil
	})
	b, _ := newBlocking(t, sender)

	if _, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/changed")); err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	resp, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/changed"))
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	if string(resp.Body) != "new body" {
		t.Fatalf("expected the superseding response's body, got %q", resp.Body)
	}
	if got := sender.callCount("/changed"); got != 2 {
		t.Fatalf("superseding response must not trigger a second origin fetch, got %d calls", got)
	}
}

func TestOnlyIfCachedMissReturnsGatewayTimeout(t *testing.T) {
	sender := newStubSender()
	b, _ := newBlocking(t, sender)

	req := mustRequest(t, http.MethodGet, "http://example.com/absent")
	req.Header.Set("Cache-Control", "only-if-cached")

	resp, err := b.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 Gateway Timeout, got %d", resp.StatusCode)
	}
	if got := sender.callCount("/absent"); got != 0 {
		t.Fatalf("only-if-cached miss must never contact the origin, got %d calls", got)
	}
}

func TestUnsafeMethodInvalidatesStoredEntry(t *testing.T) {
	sender := newStubSender()
	sender.handle("/resource", func(req *rfccache.Request) (*rfccache.Response, error) {
		switch req.Method {
		case http.MethodGet:
			return rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, []byte("v1")), nil
		case http.MethodPost:
			return rfccache.NewResponse(http.StatusOK, nil, []byte("updated")), nil
		default:
			return rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, []byte("v2")), nil
		}
	})
	b, _ := newBlocking(t, sender)

	if _, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/resource")); err != nil {
		t.Fatalf("GET: %v", err)
	}
	if _, err := b.Handle(context.Background(), mustRequest(t, http.MethodPost, "http://example.com/resource")); err != nil {
		t.Fatalf("POST: %v", err)
	}

	resp, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/resource"))
	if err != nil {
		t.Fatalf("GET after POST: %v", err)
	}
	if resp.Metadata.FromCache {
		t.Fatalf("POST should have invalidated the entry, but it was served from cache")
	}
	if got := sender.callCount("/resource"); got != 3 {
		t.Fatalf("expected GET, POST, GET(miss) to each reach the origin, got %d calls", got)
	}
}

// erroringStorage wraps a Backend and fails every GetEntries call, exercising
// the StorageUnavailable degrade-to-pass-through path.
type erroringStorage struct {
	*memstore.Store
}

var errStorageDown = errors.New("storage: unavailable")

func (e erroringStorage) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	return nil, errStorageDown
}

func TestStorageUnavailableDegradesToPassThrough(t *testing.T) {
	sender := newStubSender()
	sender.handle("/down", func(*rfccache.Request) (*rfccache.Response, error) {
		return rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, []byte("origin")), nil
	})
	b, err := proxy.NewBlocking(proxy.Config{Storage: erroringStorage{memstore.New()}, Sender: sender})
	if err != nil {
		t.Fatalf("NewBlocking: %v", err)
	}

	resp, err := b.Handle(context.Background(), mustRequest(t, http.MethodGet, "http://example.com/down"))
	if err != nil {
		t.Fatalf("Handle should degrade to pass-through, not fail: %v", err)
	}
	if resp.Metadata.FromCache || resp.Metadata.Stored {
		t.Fatalf("pass-through response must carry empty metadata, got %+v", resp.Metadata)
	}
	if string(resp.Body) != "origin" {
		t.Fatalf("expected the origin's body, got %q", resp.Body)
	}
}

func TestAsyncHandleConcurrentRequests(t *testing.T) {
	sender := newStubSender()
	sender.handle("/a", func(*rfccache.Request) (*rfccache.Response, error) {
		return rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, []byte("a")), nil
	})
	store := memstore.New()
	a, err := proxy.NewAsync(proxy.Config{Storage: store, Sender: sender}, 4)
	if err != nil {
		t.Fatalf("NewAsync: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Handle(ctx, mustRequest(t, http.MethodGet, "http://example.com/a")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Handle failed: %v", err)
	}
}
