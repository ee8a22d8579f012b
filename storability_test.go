package rfccache_test

import (
	"net/http"
	"testing"

	"github.com/sandrolain/rfccache"
)

func TestCanStoreDefaultStatusSetIsNarrow(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)

	ok := rfccache.NewResponse(http.StatusOK, http.Header{}, nil)
	if !rfccache.CanStore(r, ok, nil) {
		t.Fatalf("expected 200 to be storable by default")
	}

	notFound := rfccache.NewResponse(http.StatusNotFound, http.Header{}, nil)
	if rfccache.CanStore(r, notFound, nil) {
		t.Fatalf("expected a bare 404 to be rejected by the narrow default cacheable set")
	}

	notImplemented := rfccache.NewResponse(http.StatusNotImplemented, http.Header{}, nil)
	if rfccache.CanStore(r, notImplemented, nil) {
		t.Fatalf("expected a bare 501 to be rejected by the narrow default cacheable set")
	}
}

func TestCanStoreAllowHeuristicsWidensDefaultSet(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	notFound := rfccache.NewResponse(http.StatusNotFound, http.Header{}, nil)

	opts := &rfccache.CacheOptions{AllowHeuristics: true}
	if !rfccache.CanStore(r, notFound, opts) {
		t.Fatalf("expected AllowHeuristics to admit a 404 into the cacheable set")
	}
}

func TestCanStoreCacheableStatusCodesOverridesDefault(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	teapot := rfccache.NewResponse(http.StatusTeapot, http.Header{}, nil)

	opts := &rfccache.CacheOptions{CacheableStatusCodes: []int{http.StatusTeapot}}
	if !rfccache.CanStore(r, teapot, opts) {
		t.Fatalf("expected CacheableStatusCodes to admit a 418 when explicitly listed")
	}

	ok := rfccache.NewResponse(http.StatusOK, http.Header{}, nil)
	if rfccache.CanStore(r, ok, opts) {
		t.Fatalf("expected CacheableStatusCodes to replace, not extend, the default set")
	}
}

func TestCanStoreShouldCacheFallsBackWhenStatusNotCacheable(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	teapot := rfccache.NewResponse(http.StatusTeapot, http.Header{}, nil)

	opts := &rfccache.CacheOptions{ShouldCache: func(resp *rfccache.Response) bool {
		return resp.StatusCode == http.StatusTeapot
	}}
	if !rfccache.CanStore(r, teapot, opts) {
		t.Fatalf("expected ShouldCache to admit a status the default set rejects")
	}
}

func TestCanStoreRejectsNoStore(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"no-store"}}, nil)
	if rfccache.CanStore(r, resp, nil) {
		t.Fatalf("expected no-store to always reject storage")
	}
}
