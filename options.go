package rfccache

import (
	"fmt"
	"net/http"
	"time"
)

// CacheOptions configures a Policy's behavior. Construct with NewCacheOptions
// and the With* functions, mirroring the teacher's functional-options style
// for its Transport.
type CacheOptions struct {
	IsSharedCache    bool
	DisableWarnings  bool
	CacheKeyHeaders  []string
	ShouldCache      func(*Response) bool
	DefaultTTL       time.Duration
	RefreshOnAccess  bool
	Filters          []FilterFunc

	// SupportedMethods restricts which request methods the cache will ever
	// serve from or store to, per RFC 9111 §4.1. Defaults to GET and HEAD
	// when left nil (see NewCacheOptions).
	SupportedMethods []string

	// AllowStale permits IdleClient.Next to admit an entry lacking any
	// validator (no ETag or Last-Modified) into revalidation instead of
	// declaring an immediate cache miss, per RFC 9111 §4.1 bullet 3.
	AllowStale bool

	// AllowHeuristics enables heuristic freshness (RFC 9111 §4.2.2) for
	// responses that carry neither an explicit max-age/s-maxage nor Expires,
	// and widens the default cacheable-status set to the heuristic list.
	AllowHeuristics bool

	// AlwaysRevalidate forces every FromCache hit through revalidation
	// before use, regardless of computed freshness, per RFC 9111 §4.3.1's
	// must-revalidate semantics applied cache-wide rather than per-response.
	AlwaysRevalidate bool

	// CacheableStatusCodes overrides the default set of response status
	// codes eligible for storage without a ShouldCache predicate. Defaults
	// to {200, 301, 308} when left nil (see NewCacheOptions).
	CacheableStatusCodes []int
}

// defaultSupportedMethods is the RFC 9111 §4.1 default: only GET and HEAD
// responses are ever served from or written to the cache.
var defaultSupportedMethods = []string{http.MethodGet, http.MethodHead}

// defaultCacheableStatusCodes is the spec's explicit default, narrower than
// the full RFC 9111 §3 heuristically-cacheable list; AllowHeuristics widens
// it at evaluation time rather than by mutating this default.
var defaultCacheableStatusCodes = []int{200, 301, 308}

// CacheOption configures a CacheOptions.
type CacheOption func(*CacheOptions) error

// NewCacheOptions builds a CacheOptions from the given options, defaulting
// to private-cache semantics (RFC 9111's shared-vs-private distinction).
func NewCacheOptions(opts ...CacheOption) (*CacheOptions, error) {
	o := &CacheOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.SupportedMethods == nil {
		o.SupportedMethods = defaultSupportedMethods
	}
	if o.CacheableStatusCodes == nil {
		o.CacheableStatusCodes = defaultCacheableStatusCodes
	}
	return o, nil
}

// WithSharedCache enables shared/public cache semantics: s-maxage and the
// must-revalidate/public/Authorization interplay of RFC 9111 §3.5 apply.
// Default is a private cache, which may store responses marked private.
func WithSharedCache(shared bool) CacheOption {
	return func(o *CacheOptions) error {
		o.IsSharedCache = shared
		return nil
	}
}

// WithDisableWarnings turns off the deprecated Warning header entirely,
// for strict RFC 9111 conformance (the RFC obsoletes Warning).
func WithDisableWarnings(disable bool) CacheOption {
	return func(o *CacheOptions) error {
		o.DisableWarnings = disable
		return nil
	}
}

// WithCacheKeyHeaders folds the given request headers into the cache key in
// addition to method, URL, and Vary-named fields.
func WithCacheKeyHeaders(headers []string) CacheOption {
	return func(o *CacheOptions) error {
		o.CacheKeyHeaders = headers
		return nil
	}
}

// WithShouldCache admits responses whose status is outside the cacheable
// status set: CanStore accepts such a response when fn returns true and its
// other storability checks pass. Statuses in the set do not consult fn.
func WithShouldCache(fn func(*Response) bool) CacheOption {
	return func(o *CacheOptions) error {
		o.ShouldCache = fn
		return nil
	}
}

// WithDefaultTTL records a default entry TTL on CacheOptions.DefaultTTL.
// Neither the proxy nor the storage backends read this field, so stored
// entries get no TTL from it.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(o *CacheOptions) error {
		if ttl < 0 {
			return fmt.Errorf("rfccache: negative default TTL")
		}
		o.DefaultTTL = ttl
		return nil
	}
}

// WithRefreshOnAccess selects sliding TTL expiration: a successful cache hit
// or revalidation resets the entry's expiry instead of leaving it fixed.
func WithRefreshOnAccess(refresh bool) CacheOption {
	return func(o *CacheOptions) error {
		o.RefreshOnAccess = refresh
		return nil
	}
}

// WithFilters attaches one or more FilterFunc predicates, AND-composed on
// top of the RFC 9111 storability decision (see SpecificationPolicy.Storable).
func WithFilters(filters ...FilterFunc) CacheOption {
	return func(o *CacheOptions) error {
		o.Filters = append(o.Filters, filters...)
		return nil
	}
}

// WithSupportedMethods restricts the methods IdleClient.Next will ever serve
// from or store to, compared case-insensitively against Request.Method.
// Defaults to {GET, HEAD}.
func WithSupportedMethods(methods ...string) CacheOption {
	return func(o *CacheOptions) error {
		o.SupportedMethods = methods
		return nil
	}
}

// WithAllowStale permits revalidation of entries lacking any validator,
// per RFC 9111 §4.1 bullet 3.
func WithAllowStale(allow bool) CacheOption {
	return func(o *CacheOptions) error {
		o.AllowStale = allow
		return nil
	}
}

// WithAllowHeuristics enables heuristic freshness lifetime calculation
// (RFC 9111 §4.2.2) for responses with no explicit freshness information.
func WithAllowHeuristics(allow bool) CacheOption {
	return func(o *CacheOptions) error {
		o.AllowHeuristics = allow
		return nil
	}
}

// WithAlwaysRevalidate forces every cache hit to revalidate with the origin
// before being served, regardless of computed freshness.
func WithAlwaysRevalidate(always bool) CacheOption {
	return func(o *CacheOptions) error {
		o.AlwaysRevalidate = always
		return nil
	}
}

// WithCacheableStatusCodes overrides the default set of response status
// codes eligible for storage absent a ShouldCache predicate. Defaults to
// {200, 301, 308}.
func WithCacheableStatusCodes(codes ...int) CacheOption {
	return func(o *CacheOptions) error {
		o.CacheableStatusCodes = codes
		return nil
	}
}
