package rfccache

// CanStore determines whether resp, produced for req under opts, may be
// stored at all, per RFC 9111 §3 and the must-understand directive of
// §5.2.2.3. It does not consider the FilterPolicy layer — see Policy.
func CanStore(req *Request, resp *Response, opts *CacheOptions) bool {
	if !methodSupported(req.Method, opts) {
		return false
	}
	reqCC := req.CacheControl()
	respCC := resp.CacheControl()

	if respCC.Has(directiveMustUnderstand) {
		if !understoodStatusCodes[resp.StatusCode] {
			return false
		}
		// must-understand plus an understood status code overrides no-store.
	} else {
		if respCC.Has(directiveNoStore) || reqCC.Has(directiveNoStore) {
			return false
		}
	}

	if opts != nil && opts.IsSharedCache && req.Header.Get("Authorization") != "" {
		if !respCC.Has(directivePublic) && !respCC.Has(directiveMustRevalidate) && !respCC.Has(directiveSMaxAge) {
			return false
		}
	}

	if opts != nil && opts.IsSharedCache && respCC.Has(directivePrivate) {
		return false
	}

	if opts != nil && opts.ShouldCache != nil {
		if !isCacheableStatus(resp.StatusCode, opts) && !opts.ShouldCache(resp) {
			return false
		}
	} else if !isCacheableStatus(resp.StatusCode, opts) {
		return false
	}

	return true
}

// isCacheableStatus reports whether status is cacheable without a
// caller-supplied ShouldCache override. The explicit default is
// {200, 301, 308} (opts.CacheableStatusCodes, when set, replaces it);
// opts.AllowHeuristics additionally admits the wider RFC 9111 §3
// heuristically-cacheable list on top of whichever set applies.
func isCacheableStatus(status int, opts *CacheOptions) bool {
	codes := defaultCacheableStatusCodes
	if opts != nil && opts.CacheableStatusCodes != nil {
		codes = opts.CacheableStatusCodes
	}
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return opts != nil && opts.AllowHeuristics && isHeuristicallyCacheableStatus(status)
}

// isHeuristicallyCacheableStatus lists the status codes RFC 9111 §3 permits
// to be given a heuristic freshness lifetime absent explicit caching
// headers; it only applies when CacheOptions.AllowHeuristics is set.
func isHeuristicallyCacheableStatus(status int) bool {
	switch status {
	case 200, 203, 204, 206, 300, 301, 404, 405, 410, 414, 501:
		return true
	default:
		return false
	}
}
