package rfccache

import (
	"strings"
	"time"
)

// Freshness classifies a stored response relative to the request that is
// being served, per RFC 9111 §4.
type Freshness int

const (
	// Fresh means the entry may be returned without contacting the origin.
	Fresh Freshness = iota
	// Stale means the entry requires revalidation before use.
	Stale
	// StaleWhileRevalidate means the entry may be returned immediately while
	// a revalidation is triggered in the background (RFC 5861).
	StaleWhileRevalidate
	// Transparent means the entry must not be used to satisfy this request
	// at all (e.g. request carries Cache-Control: no-cache or Pragma: no-cache).
	Transparent
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case Transparent:
		return "transparent"
	default:
		return "unknown"
	}
}

// FreshnessLifetime computes the entry's freshness lifetime per RFC 9111
// §4.2.1: an explicit max-age/s-maxage (when isSharedCache) overrides
// Expires, which overrides heuristic freshness based on Last-Modified
// (§4.2.2, the common 10% heuristic), defaulting to zero when none apply.
// Heuristic freshness is only computed when allowHeuristics is set and the
// response's status is one RFC 9111 §3 permits to be heuristically fresh;
// otherwise a response with no explicit freshness information is treated
// as already stale (lifetime zero), per the spec's conservative default.
func FreshnessLifetime(resp *Response, date time.Time, isSharedCache, allowHeuristics bool) time.Duration {
	cc := resp.CacheControl()

	if isSharedCache {
		if secs, ok := cc.Seconds(directiveSMaxAge); ok {
			return time.Duration(secs) * time.Second
		}
	}
	if secs, ok := cc.Seconds(directiveMaxAge); ok {
		return time.Duration(secs) * time.Second
	}

	if expiresHeader := resp.Header.Get("Expires"); expiresHeader != "" {
		if expires, err := time.Parse(time.RFC1123, expiresHeader); err == nil {
			if lifetime := expires.Sub(date); lifetime > 0 {
				return lifetime
			}
			return 0
		}
	}

	if !allowHeuristics || !isHeuristicallyCacheableStatus(resp.StatusCode) {
		return 0
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if lastModified, err := time.Parse(time.RFC1123, lm); err == nil && date.After(lastModified) {
			return date.Sub(lastModified) / 10
		}
	}

	return 0
}

// Classify determines the freshness of a stored entry for the given
// incoming request, applying request-side min-fresh/max-stale overrides and
// the response's must-revalidate directive, per RFC 9111 §4 and §5.2.1.
func Classify(req *Request, resp *Response, currentAge, lifetime time.Duration) Freshness {
	reqCC := req.CacheControl()
	respCC := resp.CacheControl()

	if reqCC.Has(directiveNoCache) {
		return Transparent
	}
	if len(reqCC) == 0 && equalFoldPragmaNoCache(req) {
		return Transparent
	}
	if respCC.Has(directiveNoCache) {
		return Stale
	}
	if reqCC.Has(directiveOnlyIfCached) {
		return Fresh
	}

	if secs, ok := reqCC.Seconds(directiveMaxAge); ok {
		lifetime = time.Duration(secs) * time.Second
	}
	if secs, ok := reqCC.Seconds(directiveMinFresh); ok {
		currentAge += time.Duration(secs) * time.Second
	}

	if !respCC.Has(directiveMustRevalidate) {
		if v, ok := reqCC[directiveMaxStale]; ok {
			if v == "" {
				return Fresh
			}
			if secs, ok := reqCC.Seconds(directiveMaxStale); ok {
				currentAge -= time.Duration(secs) * time.Second
			}
		}
	}

	if lifetime > currentAge {
		return Fresh
	}

	if secs, ok := respCC.Seconds(directiveStaleWhileRevalidate); ok {
		if lifetime+time.Duration(secs)*time.Second > currentAge {
			return StaleWhileRevalidate
		}
	}

	return Stale
}

func equalFoldPragmaNoCache(req *Request) bool {
	return strings.EqualFold(req.Header.Get(headerPragma), pragmaNoCache)
}

// staleIfErrorWindow returns the stale-if-error duration and whether any
// stale response qualifies on error (RFC 5861), checking the response
// directive first, then falling back to the request's.
func staleIfErrorWindow(req *Request, resp *Response) (window time.Duration, acceptAny, found bool) {
	for _, cc := range []Directives{resp.CacheControl(), req.CacheControl()} {
		v, ok := cc[directiveStaleIfError]
		if !ok {
			continue
		}
		if v == "" {
			return 0, true, true
		}
		if secs, ok := cc.Seconds(directiveStaleIfError); ok {
			return time.Duration(secs) * time.Second, false, true
		}
	}
	return 0, false, false
}

// CanServeStaleOnError reports whether a stale entry may be returned in
// place of an origin error response, per RFC 5861's stale-if-error
// extension, given the entry's current age.
func CanServeStaleOnError(req *Request, resp *Response, currentAge time.Duration) bool {
	window, acceptAny, found := staleIfErrorWindow(req, resp)
	if !found {
		return false
	}
	if acceptAny {
		return true
	}
	return window > currentAge
}
