package rfccache

// FilterFunc is a user-supplied predicate used by FilterPolicy. Request is
// always available; Response is nil when the filter runs before the origin
// round trip (request-phase filtering).
type FilterFunc func(req *Request, resp *Response) bool

// Policy decides, for a given request/response pair, whether storage and
// cache-hit behavior follow RFC 9111 or a caller-defined bypass. The proxy
// is written against this interface so either policy drives the same
// driver code.
type Policy interface {
	// Idle runs the entry-point decision for an incoming request against
	// its candidate stored entries.
	Idle(req *Request, candidates []*StoredEntry) State

	// Storable decides whether resp may be stored for req once it has been
	// fetched from the origin (CacheMiss.Next and NeedRevalidation's
	// superseding-response branch both funnel here via the driver).
	Storable(req *Request, resp *Response) bool
}

// SpecificationPolicy is the default, RFC 9111-conformant policy: it simply
// delegates to the sans-I/O state machine in statemachine.go.
type SpecificationPolicy struct {
	Options *CacheOptions
}

// NewSpecificationPolicy builds a SpecificationPolicy from opts, defaulting
// to a fresh private-cache CacheOptions if opts is nil.
func NewSpecificationPolicy(opts *CacheOptions) *SpecificationPolicy {
	if opts == nil {
		opts = &CacheOptions{}
	}
	return &SpecificationPolicy{Options: opts}
}

func (p *SpecificationPolicy) Idle(req *Request, candidates []*StoredEntry) State {
	return IdleClient{Options: p.Options}.Next(req, candidates)
}

// Storable applies the RFC 9111 storability predicate first, then any
// caller-supplied filters AND-composed on top of it (CacheOptions.Filters),
// per the documented resolution of the filters-vs-storability ordering.
func (p *SpecificationPolicy) Storable(req *Request, resp *Response) bool {
	if !CanStore(req, resp, p.Options) {
		return false
	}
	for _, f := range p.Options.Filters {
		if !f(req, resp) {
			return false
		}
	}
	return true
}

// FilterPolicy bypasses RFC 9111 decision logic entirely: a request is
// servable from cache whenever every RequestFilter accepts it, and a
// response is storable whenever every ResponseFilter accepts it. Filters
// are AND-composed, and no RFC 9111 storability check (CanStore) runs at
// all — there is no RFC-compliance fallback once a FilterPolicy is selected.
type FilterPolicy struct {
	RequestFilters  []FilterFunc
	ResponseFilters []FilterFunc
}

func (p *FilterPolicy) Idle(req *Request, candidates []*StoredEntry) State {
	for _, f := range p.RequestFilters {
		if !f(req, nil) {
			return CacheMiss{Request: req}
		}
	}
	sortByRecency(candidates)
	survivors := varyFilter(req, candidates)
	if len(survivors) == 0 {
		return CacheMiss{Request: req}
	}
	return FromCache{Entry: survivors[0]}
}

func (p *FilterPolicy) Storable(req *Request, resp *Response) bool {
	for _, f := range p.ResponseFilters {
		if !f(req, resp) {
			return false
		}
	}
	return true
}
