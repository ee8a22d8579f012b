package rfccache_test

import (
	"net/http"
	"testing"

	"github.com/sandrolain/rfccache"
)

func TestCacheKeyIsStableForIdenticalRequests(t *testing.T) {
	a := rfccache.CacheKey(req(t, http.MethodGet, "http://example.com/a", nil))
	b := rfccache.CacheKey(req(t, http.MethodGet, "http://example.com/a", nil))
	if a != b {
		t.Fatalf("expected identical requests to produce the same key, got %q vs %q", a, b)
	}
}

func TestCacheKeyDiffersByMethodAndURL(t *testing.T) {
	get := rfccache.CacheKey(req(t, http.MethodGet, "http://example.com/a", nil))
	post := rfccache.CacheKey(req(t, http.MethodPost, "http://example.com/a", nil))
	other := rfccache.CacheKey(req(t, http.MethodGet, "http://example.com/b", nil))

	if get == post {
		t.Fatalf("GET and POST should not collide")
	}
	if get == other {
		t.Fatalf("different paths should not collide")
	}
}

func TestCacheKeyBodyKeyFoldsBodyHash(t *testing.T) {
	r1 := req(t, http.MethodPost, "http://example.com/search", nil)
	r1.Metadata.BodyKey = true
	r1.Body = []byte(`{"q":"a"}`)

	r2 := req(t, http.MethodPost, "http://example.com/search", nil)
	r2.Metadata.BodyKey = true
	r2.Body = []byte(`{"q":"b"}`)

	if rfccache.CacheKey(r1) == rfccache.CacheKey(r2) {
		t.Fatalf("expected different bodies to produce different keys when BodyKey is set")
	}
}

func TestCacheKeyIgnoresBodyWithoutBodyKey(t *testing.T) {
	r1 := req(t, http.MethodPost, "http://example.com/search", nil)
	r1.Body = []byte("a")
	r2 := req(t, http.MethodPost, "http://example.com/search", nil)
	r2.Body = []byte("b")

	if rfccache.CacheKey(r1) != rfccache.CacheKey(r2) {
		t.Fatalf("expected bodies to be ignored without BodyKey")
	}
}

func TestCacheKeyWithVaryProducesDistinctKeysPerVariant(t *testing.T) {
	r1 := req(t, http.MethodGet, "http://example.com/a", http.Header{"Accept-Encoding": {"gzip"}})
	r2 := req(t, http.MethodGet, "http://example.com/a", http.Header{"Accept-Encoding": {"br"}})
	vary := http.Header{"Vary": {"Accept-Encoding"}}

	k1 := rfccache.CacheKeyWithVary(r1, vary)
	k2 := rfccache.CacheKeyWithVary(r2, vary)
	if k1 == k2 {
		t.Fatalf("expected distinct Accept-Encoding variants to produce distinct keys")
	}
}

func TestCacheKeyWithHeadersOnlyFoldsNamedHeaders(t *testing.T) {
	r1 := req(t, http.MethodGet, "http://example.com/a", http.Header{"X-Tenant": {"acme"}, "X-Other": {"1"}})
	r2 := req(t, http.MethodGet, "http://example.com/a", http.Header{"X-Tenant": {"acme"}, "X-Other": {"2"}})

	if rfccache.CacheKeyWithHeaders(r1, []string{"X-Tenant"}) != rfccache.CacheKeyWithHeaders(r2, []string{"X-Tenant"}) {
		t.Fatalf("expected unrelated header X-Other to not affect the key")
	}

	r3 := req(t, http.MethodGet, "http://example.com/a", http.Header{"X-Tenant": {"other"}})
	if rfccache.CacheKeyWithHeaders(r1, []string{"X-Tenant"}) == rfccache.CacheKeyWithHeaders(r3, []string{"X-Tenant"}) {
		t.Fatalf("expected differing X-Tenant values to produce distinct keys")
	}
}
