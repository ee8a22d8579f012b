package rfccache

import (
	"net/http"
	"net/url"
)

// unsafeMethods are the HTTP methods RFC 9111 §4.4 treats as invalidating.
var unsafeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// IsUnsafeMethod reports whether method triggers cache invalidation on a
// successful response, per RFC 9111 §4.4.
func IsUnsafeMethod(method string) bool {
	return unsafeMethods[method]
}

// InvalidationTargets computes the set of cache keys that must be removed
// after a non-error response to an unsafe request, per RFC 9111 §4.4: the
// effective request URI, plus any same-origin Location/Content-Location
// target. Cross-origin Location/Content-Location values are ignored, since
// RFC 9111 restricts invalidation to same-origin URIs.
func InvalidationTargets(req *Request, resp *Response) []string {
	if resp.IsError() {
		return nil
	}

	targets := keysForURI(req.URL)

	for _, header := range []string{headerLocation, headerContentLocation} {
		raw := resp.Header.Get(header)
		if raw == "" {
			continue
		}
		target, err := req.URL.Parse(raw)
		if err != nil || !sameOrigin(req.URL, target) {
			continue
		}
		targets = append(targets, keysForURI(target)...)
	}

	return targets
}

// keysForURI returns the GET and HEAD cache keys for u, since RFC 9111
// §4.4 invalidates both regardless of which unsafe method triggered it.
func keysForURI(u *url.URL) []string {
	get := CacheKey(NewRequest(http.MethodGet, u, nil))
	head := CacheKey(NewRequest(http.MethodHead, u, nil))
	if head == get {
		return []string{get}
	}
	return []string{get, head}
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
