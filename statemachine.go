package rfccache

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// StoredEntry is the minimal view of a persisted request/response pair the
// state machine needs: enough of the storage.Entry shape to decide
// freshness and Vary matching without importing the storage package (which
// instead imports this one for Request/Response/Directives).
type StoredEntry struct {
	ID              string
	RequestHeader   HeaderMap
	ResponseHeader  HeaderMap
	ResponseStatus  int
	CreatedAt       time.Time
	TTL             *time.Duration
}

// HeaderMap is a minimal case-sensitive-key header snapshot; storage
// backends populate it from http.Header.Clone() via ToHeaderMap.
type HeaderMap map[string][]string

// State is the closed sum type the state machine transitions through. Each
// concrete state type implements State; callers type-switch on the result
// of a transition to decide the driver's next action.
type State interface {
	isState()
}

// IdleClient is the entry point of every request the proxy handles.
type IdleClient struct {
	Options *CacheOptions
}

func (IdleClient) isState() {}

// Next selects among candidates (all entries sharing the request's cache
// key) per §4.1: Vary-filter, then either serve the freshest fresh entry,
// ask for revalidation, or declare a miss.
func (s IdleClient) Next(req *Request, candidates []*StoredEntry) State {
	cc := req.CacheControl()
	if cc.Has(directiveNoStore) {
		return CacheMiss{Request: req}
	}

	if !methodSupported(req.Method, s.Options) {
		return CacheMiss{Request: req}
	}

	survivors := varyFilter(req, candidates)
	if len(survivors) == 0 {
		if cc.Has(directiveOnlyIfCached) {
			return CacheMiss{Request: req, OnlyIfCachedMiss: true}
		}
		return CacheMiss{Request: req}
	}

	sortByRecency(survivors)

	alwaysRevalidate := s.Options != nil && s.Options.AlwaysRevalidate
	if !alwaysRevalidate {
		if freshest := freshestUsable(req, survivors, s.Options); freshest != nil {
			return FromCache{Entry: freshest}
		}
	}

	if cc.Has(directiveOnlyIfCached) {
		return CacheMiss{Request: req, OnlyIfCachedMiss: true}
	}

	if revalidatable := withValidator(req, survivors, s.Options); len(revalidatable) > 0 {
		conditional := buildConditionalFromEntries(req, revalidatable)
		return NeedRevalidation{
			ConditionalRequest:  conditional,
			OriginalRequest:     req,
			RevalidatingIDs:     entryIDs(revalidatable),
			RevalidatingEntries: revalidatable,
			StalestUsable:       revalidatable[0],
		}
	}

	return CacheMiss{Request: req}
}

func varyFilter(req *Request, candidates []*StoredEntry) []*StoredEntry {
	survivors := make([]*StoredEntry, 0, len(candidates))
	for _, c := range candidates {
		respHeader := fromHeaderMap(c.ResponseHeader)
		storedReqHeader := fromHeaderMap(c.RequestHeader)
		if VaryMatches(respHeader, storedReqHeader, req.Header) {
			survivors = append(survivors, c)
		}
	}
	return survivors
}

func sortByRecency(entries []*StoredEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return hasStrongValidator(entries[i]) && !hasStrongValidator(entries[j])
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func hasStrongValidator(e *StoredEntry) bool {
	return fromHeaderMap(e.ResponseHeader).Get("ETag") != ""
}

// freshestUsable returns the most recently created entry that is fresh for
// req, or still inside its stale-while-revalidate window, and not itself
// subject to a forced revalidation directive, or nil.
func freshestUsable(req *Request, sorted []*StoredEntry, opts *CacheOptions) *StoredEntry {
	reqCC := req.CacheControl()
	if maxAge, ok := reqCC.Seconds(directiveMaxAge); ok && maxAge == 0 {
		return nil
	}
	isSharedCache := opts != nil && opts.IsSharedCache
	allowHeuristics := opts != nil && opts.AllowHeuristics
	for _, e := range sorted {
		resp := syntheticResponse(e)
		age, err := CurrentAge(resp, e.CreatedAt, e.CreatedAt, time.Now())
		if err != nil {
			continue
		}
		lifetime := FreshnessLifetime(resp, e.CreatedAt, isSharedCache, allowHeuristics)
		switch Classify(req, resp, age, lifetime) {
		case Fresh:
			return e
		case StaleWhileRevalidate:
			return e
		}
	}
	return nil
}

// withValidator returns the subset of entries eligible to be revalidated:
// those carrying a strong or weak validator, plus, when opts.AllowStale and
// the request itself permits staleness, entries with no validator at all
// (RFC 9111 §4.1 bullet 3).
func withValidator(req *Request, entries []*StoredEntry, opts *CacheOptions) []*StoredEntry {
	out := make([]*StoredEntry, 0, len(entries))
	for _, e := range entries {
		h := fromHeaderMap(e.ResponseHeader)
		if h.Get("ETag") != "" || h.Get("Last-Modified") != "" || allowsStale(req, opts) {
			out = append(out, e)
		}
	}
	return out
}

// allowsStale reports whether options.allow_stale is set and the request
// itself permits a stale response: it must not carry Cache-Control: no-cache
// or the equivalent Pragma, which forbid using any stored response without
// revalidation regardless of AllowStale.
func allowsStale(req *Request, opts *CacheOptions) bool {
	if opts == nil || !opts.AllowStale {
		return false
	}
	cc := req.CacheControl()
	if cc.Has(directiveNoCache) {
		return false
	}
	return !equalFoldPragmaNoCache(req)
}

// methodSupported reports whether method may be served from or stored to
// the cache, per opts.SupportedMethods (defaulting to GET and HEAD).
func methodSupported(method string, opts *CacheOptions) bool {
	methods := defaultSupportedMethods
	if opts != nil && opts.SupportedMethods != nil {
		methods = opts.SupportedMethods
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func syntheticResponse(e *StoredEntry) *Response {
	return NewResponse(e.ResponseStatus, fromHeaderMap(e.ResponseHeader), nil)
}

func buildConditionalFromEntries(req *Request, entries []*StoredEntry) *Request {
	conditional := req.Clone()
	var etags []string
	var latestLastModified string
	for _, e := range entries {
		h := fromHeaderMap(e.ResponseHeader)
		if etag := h.Get("ETag"); etag != "" {
			etags = append(etags, etag)
		} else if lm := h.Get("Last-Modified"); lm != "" {
			latestLastModified = lm
		}
	}
	if len(etags) > 0 {
		conditional.Header.Set("If-None-Match", joinComma(etags))
	} else if latestLastModified != "" {
		conditional.Header.Set("If-Modified-Since", latestLastModified)
	}
	return conditional
}

func joinComma(values []string) string {
	out := values[0]
	for _, v := range values[1:] {
		out += ", " + v
	}
	return out
}

func entryIDs(entries []*StoredEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func fromHeaderMap(h HeaderMap) http.Header {
	out := http.Header{}
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ToHeaderMap converts an http.Header into the plain map the storage layer
// persists, without the canonicalization http.Header otherwise performs
// (the snapshot must remain byte-stable once written).
func ToHeaderMap(h http.Header) HeaderMap {
	out := HeaderMap{}
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CacheMiss is reached when no stored entry can serve the request at all.
type CacheMiss struct {
	Request          *Request
	OnlyIfCachedMiss bool
}

func (CacheMiss) isState() {}

// Next evaluates storability of the origin's response via policy and
// transitions to StoreAndUse or CouldNotBeStored.
func (s CacheMiss) Next(resp *Response, policy Policy) State {
	if s.Request.Metadata.SpecIgnore {
		if resp.CacheControl().Has(directiveNoStore) {
			return CouldNotBeStored{Response: resp}
		}
		resp.Metadata.SpecIgnored = true
		return StoreAndUse{Response: resp}
	}
	if policy.Storable(s.Request, resp) {
		return StoreAndUse{Response: resp}
	}
	return CouldNotBeStored{Response: resp}
}

// NeedRevalidation carries the conditional request the proxy must send to
// the origin, and the entries it may resolve.
type NeedRevalidation struct {
	ConditionalRequest *Request
	OriginalRequest    *Request
	RevalidatingIDs    []string
	// RevalidatingEntries holds the same set as RevalidatingIDs in full, so
	// matchValidator has something to compare the origin's validator against.
	RevalidatingEntries []*StoredEntry
	StalestUsable       *StoredEntry
}

func (NeedRevalidation) isState() {}

// Next classifies the origin's revalidation response: a 304 match produces
// NeedToBeUpdated; a superseding 2xx/3xx produces InvalidatePairs chained
// into a fresh CacheMiss; a 5xx under stale-if-error reuses the cached
// entry; anything else falls back to a plain cache miss.
func (s NeedRevalidation) Next(resp *Response) State {
	if resp.StatusCode == 304 {
		matched := s.matchValidator(resp)
		if matched == nil {
			return InvalidatePairs{IDs: s.RevalidatingIDs, Next: CacheMiss{Request: s.OriginalRequest}}
		}
		return NeedToBeUpdated{Matched: matched, From: resp, OriginalRequest: s.OriginalRequest}
	}

	if resp.StatusCode >= 500 {
		age, err := CurrentAge(syntheticResponse(s.StalestUsable), s.StalestUsable.CreatedAt, s.StalestUsable.CreatedAt, time.Now())
		if err == nil && CanServeStaleOnError(s.OriginalRequest, syntheticResponse(s.StalestUsable), age) {
			stale := s.StalestUsable
			return FromCache{Entry: stale, ServedOnError: true}
		}
		return CacheMiss{Request: s.OriginalRequest}
	}

	if resp.StatusCode < 400 {
		return InvalidatePairs{IDs: s.RevalidatingIDs, Next: CacheMiss{Request: s.OriginalRequest}}
	}

	return CacheMiss{Request: s.OriginalRequest}
}

// matchValidator selects the single stored entry a 304 response resolves,
// by comparing the response's own validator-echoing headers (ETag first,
// then Last-Modified) against each revalidating entry's stored validator.
// A 304 carrying no validator of its own falls back to the single-candidate
// case, or to the strong validator named in the conditional request when
// more than one entry was offered; anything left unresolved returns nil,
// which the caller treats as InvalidatePairs.
func (s NeedRevalidation) matchValidator(resp *Response) *StoredEntry {
	if etag := resp.Header.Get("ETag"); etag != "" {
		for _, e := range s.RevalidatingEntries {
			if fromHeaderMap(e.ResponseHeader).Get("ETag") == etag {
				return e
			}
		}
		return nil
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		for _, e := range s.RevalidatingEntries {
			if fromHeaderMap(e.ResponseHeader).Get("Last-Modified") == lm {
				return e
			}
		}
		return nil
	}

	if len(s.RevalidatingEntries) == 1 {
		return s.RevalidatingEntries[0]
	}

	if s.ConditionalRequest != nil {
		if inm := s.ConditionalRequest.Header.Get("If-None-Match"); inm != "" {
			for _, e := range s.RevalidatingEntries {
				if etag := fromHeaderMap(e.ResponseHeader).Get("ETag"); etag != "" && strings.Contains(inm, etag) {
					return e
				}
			}
		}
	}

	return nil
}

// NeedToBeUpdated merges a 304's end-to-end headers into the matched entry.
type NeedToBeUpdated struct {
	Matched         *StoredEntry
	From            *Response
	OriginalRequest *Request
}

func (NeedToBeUpdated) isState() {}

// Next has no inputs: the driver performs the merge (storage.Backend.UpdateEntry)
// and transitions unconditionally to FromCache.
func (s NeedToBeUpdated) Next() State {
	return FromCache{Entry: s.Matched, Revalidated: true}
}

// FromCache, StoreAndUse, and CouldNotBeStored are terminal states: the
// driver reads their fields and performs no further transition.
type FromCache struct {
	Entry         *StoredEntry
	Revalidated   bool
	ServedOnError bool
}

func (FromCache) isState() {}

type StoreAndUse struct {
	Response *Response
}

func (StoreAndUse) isState() {}

type CouldNotBeStored struct {
	Response *Response
}

func (CouldNotBeStored) isState() {}

// InvalidatePairs instructs the driver to remove IDs before running Next.
type InvalidatePairs struct {
	IDs  []string
	Next State
}

func (InvalidatePairs) isState() {}
