package rfccache_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sandrolain/rfccache"
)

func req(t *testing.T, method, rawURL string, header http.Header) *rfccache.Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if header == nil {
		header = http.Header{}
	}
	return rfccache.NewRequest(method, u, header)
}

func storedEntry(id string, createdAt time.Time, status int, header http.Header) *rfccache.StoredEntry {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Date") == "" {
		h.Set("Date", createdAt.UTC().Format(time.RFC1123))
	}
	return &rfccache.StoredEntry{
		ID:             id,
		ResponseHeader: rfccache.ToHeaderMap(h),
		ResponseStatus: status,
		CreatedAt:      createdAt,
	}
}

func TestIdleClientServesFreshEntry(t *testing.T) {
	entry := storedEntry("1", time.Now(), http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}})
	state := rfccache.IdleClient{}.Next(req(t, http.MethodGet, "http://example.com/a", nil), []*rfccache.StoredEntry{entry})

	fc, ok := state.(rfccache.FromCache)
	if !ok {
		t.Fatalf("expected FromCache, got %T", state)
	}
	if fc.Entry.ID != "1" {
		t.Fatalf("expected entry 1, got %s", fc.Entry.ID)
	}
}

func TestIdleClientNoStoreRequestIsAlwaysMiss(t *testing.T) {
	entry := storedEntry("1", time.Now(), http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}})
	r := req(t, http.MethodGet, "http://example.com/a", http.Header{"Cache-Control": {"no-store"}})
	state := rfccache.IdleClient{}.Next(r, []*rfccache.StoredEntry{entry})

	if _, ok := state.(rfccache.CacheMiss); !ok {
		t.Fatalf("expected CacheMiss, got %T", state)
	}
}

func TestIdleClientRequestsRevalidationForStaleEntryWithValidator(t *testing.T) {
	entry := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{
		"Cache-Control": {"max-age=60"},
		"ETag":          {`"v1"`},
	})
	state := rfccache.IdleClient{}.Next(req(t, http.MethodGet, "http://example.com/a", nil), []*rfccache.StoredEntry{entry})

	nr, ok := state.(rfccache.NeedRevalidation)
	if !ok {
		t.Fatalf("expected NeedRevalidation, got %T", state)
	}
	if got := nr.ConditionalRequest.Header.Get("If-None-Match"); got != `"v1"` {
		t.Fatalf("expected If-None-Match %q, got %q", `"v1"`, got)
	}
}

func TestIdleClientNoCandidatesIsMiss(t *testing.T) {
	state := rfccache.IdleClient{}.Next(req(t, http.MethodGet, "http://example.com/a", nil), nil)
	if _, ok := state.(rfccache.CacheMiss); !ok {
		t.Fatalf("expected CacheMiss, got %T", state)
	}
}

func TestIdleClientOnlyIfCachedMissSetsFlag(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", http.Header{"Cache-Control": {"only-if-cached"}})
	state := rfccache.IdleClient{}.Next(r, nil)

	miss, ok := state.(rfccache.CacheMiss)
	if !ok {
		t.Fatalf("expected CacheMiss, got %T", state)
	}
	if !miss.OnlyIfCachedMiss {
		t.Fatalf("expected OnlyIfCachedMiss to be set")
	}
}

func TestCacheMissNextStoresCacheableResponse(t *testing.T) {
	miss := rfccache.CacheMiss{Request: req(t, http.MethodGet, "http://example.com/a", nil)}
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"max-age=60"}}, []byte("body"))

	policy := rfccache.NewSpecificationPolicy(nil)
	state := miss.Next(resp, policy)
	if _, ok := state.(rfccache.StoreAndUse); !ok {
		t.Fatalf("expected StoreAndUse, got %T", state)
	}
}

func TestCacheMissNextDiscardsNoStoreResponse(t *testing.T) {
	miss := rfccache.CacheMiss{Request: req(t, http.MethodGet, "http://example.com/a", nil)}
	resp := rfccache.NewResponse(http.StatusOK, http.Header{"Cache-Control": {"no-store"}}, []byte("body"))

	policy := rfccache.NewSpecificationPolicy(nil)
	state := miss.Next(resp, policy)
	if _, ok := state.(rfccache.CouldNotBeStored); !ok {
		t.Fatalf("expected CouldNotBeStored, got %T", state)
	}
}

func TestCacheMissNextSpecIgnoreBypassesStorability(t *testing.T) {
	r := req(t, http.MethodGet, "http://example.com/a", nil)
	r.Metadata.SpecIgnore = true
	miss := rfccache.CacheMiss{Request: r}
	// 418 is in neither the default cacheable status set nor the heuristic
	// list, so CanStore always rejects it; storing it proves SpecIgnore is
	// actually what let it through.
	resp := rfccache.NewResponse(http.StatusTeapot, http.Header{}, nil)

	policy := rfccache.NewSpecificationPolicy(nil)
	state := miss.Next(resp, policy)
	stored, ok := state.(rfccache.StoreAndUse)
	if !ok {
		t.Fatalf("expected StoreAndUse, got %T", state)
	}
	if !stored.Response.Metadata.SpecIgnored {
		t.Fatalf("expected SpecIgnored metadata to be set")
	}
}

func TestNeedRevalidationNextNotModifiedUpdatesEntry(t *testing.T) {
	stale := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{
		"Cache-Control": {"max-age=0, must-revalidate"},
		"ETag":          {`"v1"`},
	})
	nr := rfccache.NeedRevalidation{
		OriginalRequest:     req(t, http.MethodGet, "http://example.com/a", nil),
		RevalidatingIDs:     []string{"1"},
		RevalidatingEntries: []*rfccache.StoredEntry{stale},
		StalestUsable:       stale,
	}

	notModified := rfccache.NewResponse(http.StatusNotModified, http.Header{"ETag": {`"v1"`}}, nil)
	state := nr.Next(notModified)

	updated, ok := state.(rfccache.NeedToBeUpdated)
	if !ok {
		t.Fatalf("expected NeedToBeUpdated, got %T", state)
	}
	if updated.Matched.ID != "1" {
		t.Fatalf("expected matched entry 1, got %s", updated.Matched.ID)
	}
	if _, ok := updated.Next().(rfccache.FromCache); !ok {
		t.Fatalf("NeedToBeUpdated.Next should reach FromCache")
	}
}

func TestNeedRevalidationNextSupersedingResponseInvalidates(t *testing.T) {
	stale := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{
		"Cache-Control": {"max-age=0, must-revalidate"},
		"ETag":          {`"v1"`},
	})
	nr := rfccache.NeedRevalidation{
		OriginalRequest:     req(t, http.MethodGet, "http://example.com/a", nil),
		RevalidatingIDs:     []string{"1"},
		RevalidatingEntries: []*rfccache.StoredEntry{stale},
		StalestUsable:       stale,
	}

	fresh := rfccache.NewResponse(http.StatusOK, http.Header{"ETag": {`"v2"`}}, []byte("new"))
	state := nr.Next(fresh)

	invalidate, ok := state.(rfccache.InvalidatePairs)
	if !ok {
		t.Fatalf("expected InvalidatePairs, got %T", state)
	}
	if len(invalidate.IDs) != 1 || invalidate.IDs[0] != "1" {
		t.Fatalf("expected invalidation of entry 1, got %v", invalidate.IDs)
	}
	if _, ok := invalidate.Next.(rfccache.CacheMiss); !ok {
		t.Fatalf("expected chained CacheMiss, got %T", invalidate.Next)
	}
}

func TestIdleClientRejectsUnsupportedMethod(t *testing.T) {
	entry := storedEntry("1", time.Now(), http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}})
	r := req(t, http.MethodPut, "http://example.com/a", nil)
	state := rfccache.IdleClient{}.Next(r, []*rfccache.StoredEntry{entry})

	if _, ok := state.(rfccache.CacheMiss); !ok {
		t.Fatalf("expected CacheMiss for an unsupported method, got %T", state)
	}
}

func TestIdleClientHonorsCustomSupportedMethods(t *testing.T) {
	opts := &rfccache.CacheOptions{SupportedMethods: []string{http.MethodGet, http.MethodPost}}
	entry := storedEntry("1", time.Now(), http.StatusOK, http.Header{"Cache-Control": {"max-age=3600"}})
	r := req(t, http.MethodPost, "http://example.com/a", nil)
	state := rfccache.IdleClient{Options: opts}.Next(r, []*rfccache.StoredEntry{entry})

	if _, ok := state.(rfccache.FromCache); !ok {
		t.Fatalf("expected FromCache once POST is added to SupportedMethods, got %T", state)
	}
}

func TestIdleClientAllowStaleAdmitsValidatorlessEntryToRevalidation(t *testing.T) {
	entry := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{"Cache-Control": {"max-age=60"}})

	withoutAllowStale := rfccache.IdleClient{}.Next(req(t, http.MethodGet, "http://example.com/a", nil), []*rfccache.StoredEntry{entry})
	if _, ok := withoutAllowStale.(rfccache.CacheMiss); !ok {
		t.Fatalf("expected CacheMiss without AllowStale, got %T", withoutAllowStale)
	}

	opts := &rfccache.CacheOptions{AllowStale: true}
	withAllowStale := rfccache.IdleClient{Options: opts}.Next(req(t, http.MethodGet, "http://example.com/a", nil), []*rfccache.StoredEntry{entry})
	if _, ok := withAllowStale.(rfccache.NeedRevalidation); !ok {
		t.Fatalf("expected NeedRevalidation with AllowStale, got %T", withAllowStale)
	}
}

func TestIdleClientAlwaysRevalidateSkipsFreshEntry(t *testing.T) {
	entry := storedEntry("1", time.Now(), http.StatusOK, http.Header{
		"Cache-Control": {"max-age=3600"},
		"ETag":          {`"v1"`},
	})
	opts := &rfccache.CacheOptions{AlwaysRevalidate: true}
	state := rfccache.IdleClient{Options: opts}.Next(req(t, http.MethodGet, "http://example.com/a", nil), []*rfccache.StoredEntry{entry})

	if _, ok := state.(rfccache.NeedRevalidation); !ok {
		t.Fatalf("expected AlwaysRevalidate to force NeedRevalidation even for a fresh entry, got %T", state)
	}
}

func TestNeedRevalidationMatchValidatorSelectsByETag(t *testing.T) {
	v1 := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{"ETag": {`"v1"`}})
	v2 := storedEntry("2", time.Now().Add(-time.Hour), http.StatusOK, http.Header{"ETag": {`"v2"`}})
	nr := rfccache.NeedRevalidation{
		OriginalRequest:     req(t, http.MethodGet, "http://example.com/a", nil),
		RevalidatingIDs:     []string{"1", "2"},
		RevalidatingEntries: []*rfccache.StoredEntry{v1, v2},
		StalestUsable:       v1,
	}

	notModified := rfccache.NewResponse(http.StatusNotModified, http.Header{"ETag": {`"v2"`}}, nil)
	state := nr.Next(notModified)

	updated, ok := state.(rfccache.NeedToBeUpdated)
	if !ok {
		t.Fatalf("expected NeedToBeUpdated, got %T", state)
	}
	if updated.Matched.ID != "2" {
		t.Fatalf("expected the 304's ETag to select entry 2, got %s", updated.Matched.ID)
	}
}

func TestNeedRevalidationMatchValidatorNoMatchInvalidates(t *testing.T) {
	v1 := storedEntry("1", time.Now().Add(-time.Hour), http.StatusOK, http.Header{"ETag": {`"v1"`}})
	v2 := storedEntry("2", time.Now().Add(-time.Hour), http.StatusOK, http.Header{"ETag": {`"v2"`}})
	nr := rfccache.NeedRevalidation{
		OriginalRequest:     req(t, http.MethodGet, "http://example.com/a", nil),
		RevalidatingIDs:     []string{"1", "2"},
		RevalidatingEntries: []*rfccache.StoredEntry{v1, v2},
		StalestUsable:       v1,
	}

	notModified := rfccache.NewResponse(http.StatusNotModified, http.Header{"ETag": {`"v3"`}}, nil)
	state := nr.Next(notModified)

	invalidate, ok := state.(rfccache.InvalidatePairs)
	if !ok {
		t.Fatalf("expected InvalidatePairs when no entry's validator matches, got %T", state)
	}
	if len(invalidate.IDs) != 2 {
		t.Fatalf("expected both candidates invalidated, got %v", invalidate.IDs)
	}
}

func TestNeedRevalidationNextServerErrorFallsBackToStaleOnError(t *testing.T) {
	stale := storedEntry("1", time.Now().Add(-time.Second), http.StatusOK, http.Header{
		"Cache-Control": {"max-age=60, stale-if-error=3600"},
		"ETag":          {`"v1"`},
	})
	nr := rfccache.NeedRevalidation{
		OriginalRequest:     req(t, http.MethodGet, "http://example.com/a", nil),
		RevalidatingIDs:     []string{"1"},
		RevalidatingEntries: []*rfccache.StoredEntry{stale},
		StalestUsable:       stale,
	}

	serverErr := rfccache.NewResponse(http.StatusBadGateway, http.Header{}, nil)
	state := nr.Next(serverErr)

	fc, ok := state.(rfccache.FromCache)
	if !ok {
		t.Fatalf("expected FromCache, got %T", state)
	}
	if !fc.ServedOnError {
		t.Fatalf("expected ServedOnError to be set")
	}
}
