package rfccache_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/sandrolain/rfccache"
)

func dateHeader(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}

func TestFreshnessLifetimePrefersMaxAgeOverExpires(t *testing.T) {
	date := time.Now()
	resp := rfccache.NewResponse(http.StatusOK, http.Header{
		"Cache-Control": {"max-age=120"},
		"Expires":       {dateHeader(date.Add(time.Hour))},
	}, nil)

	lifetime := rfccache.FreshnessLifetime(resp, date, false, false)
	if lifetime != 120*time.Second {
		t.Fatalf("expected 120s lifetime, got %v", lifetime)
	}
}

func TestFreshnessLifetimeSharedCachePrefersSMaxAge(t *testing.T) {
	date := time.Now()
	resp := rfccache.NewResponse(http.StatusOK, http.Header{
		"Cache-Control": {"max-age=60, s-maxage=300"},
	}, nil)

	if got := rfccache.FreshnessLifetime(resp, date, true, false); got != 300*time.Second {
		t.Fatalf("expected shared cache to honor s-maxage=300s, got %v", got)
	}
	if got := rfccache.FreshnessLifetime(resp, date, false, false); got != 60*time.Second {
		t.Fatalf("expected private cache to fall back to max-age=60s, got %v", got)
	}
}

func TestFreshnessLifetimeHeuristicFromLastModified(t *testing.T) {
	date := time.Now().Truncate(time.Second)
	lastModified := date.Add(-10 * time.Hour)
	resp := rfccache.NewResponse(http.StatusOK, http.Header{
		"Last-Modified": {dateHeader(lastModified)},
	}, nil)

	got := rfccache.FreshnessLifetime(resp, date, false, true)
	want := 10 * time.Hour / 10
	if got != want {
		t.Fatalf("expected heuristic lifetime %v, got %v", want, got)
	}
}

func TestFreshnessLifetimeHeuristicRequiresAllowHeuristics(t *testing.T) {
	date := time.Now()
	lastModified := date.Add(-10 * time.Hour)
	resp := rfccache.NewResponse(http.StatusOK, http.Header{
		"Last-Modified": {dateHeader(lastModified)},
	}, nil)

	if got := rfccache.FreshnessLifetime(resp, date, false, false); got != 0 {
		t.Fatalf("expected heuristic freshness to be disabled by default, got %v", got)
	}
}

func TestFreshnessLifetimeHeuristicExcludesUnlistedStatus(t *testing.T) {
	date := time.Now()
	lastModified := date.Add(-10 * time.Hour)
	resp := rfccache.NewResponse(http.StatusTeapot, http.Header{
		"Last-Modified": {dateHeader(lastModified)},
	}, nil)

	if got := rfccache.FreshnessLifetime(resp, date, false, true); got != 0 {
		t.Fatalf("expected a non-heuristically-cacheable status to get no heuristic lifetime, got %v", got)
	}
}

func TestClassifyRequestNoCacheIsTransparent(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", http.Header{"Cache-Control": {"no-cache"}})
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}}, nil)

	if got := rfccache.Classify(r, resp, 0, time.Hour); got != rfccache.Transparent {
		t.Fatalf("expected Transparent, got %v", got)
	}
}

func TestClassifyStaleWhileRevalidateWindow(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	resp := rfccache.NewResponse(http.StatusOK, http.Header{
		"Cache-Control": {"max-age=60, stale-while-revalidate=30"},
	}, nil)

	// 70s old: past max-age=60 but within the 30s stale-while-revalidate window.
	if got := rfccache.Classify(r, resp, 70*time.Second, 60*time.Second); got != rfccache.StaleWhileRevalidate {
		t.Fatalf("expected StaleWhileRevalidate, got %v", got)
	}
	// 100s old: past both windows.
	if got := rfccache.Classify(r, resp, 100*time.Second, 60*time.Second); got != rfccache.Stale {
		t.Fatalf("expected Stale, got %v", got)
	}
}

func TestClassifyRequestMaxStaleExtendsFreshness(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", http.Header{"Cache-Control": {"max-stale=30"}})
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=60"}}, nil)

	if got := rfccache.Classify(r, resp, 80*time.Second, 60*time.Second); got != rfccache.Fresh {
		t.Fatalf("expected max-stale to tolerate 80s age against a 60s lifetime, got %v", got)
	}
}

func TestClassifyMustRevalidateIgnoresMaxStale(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", http.Header{"Cache-Control": {"max-stale=30"}})
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=60, must-revalidate"}}, nil)

	if got := rfccache.Classify(r, resp, 80*time.Second, 60*time.Second); got != rfccache.Stale {
		t.Fatalf("expected must-revalidate to override max-stale, got %v", got)
	}
}

func TestCanServeStaleOnErrorRespectsWindow(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"stale-if-error=60"}}, nil)

	if !rfccache.CanServeStaleOnError(r, resp, 30*time.Second) {
		t.Fatalf("expected stale-if-error=60 to cover a 30s-old entry")
	}
	if rfccache.CanServeStaleOnError(r, resp, 90*time.Second) {
		t.Fatalf("expected stale-if-error=60 not to cover a 90s-old entry")
	}
}
