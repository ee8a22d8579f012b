package rfccache

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestMetadata is the control-input bag a caller can attach to a Request.
// Unknown keys carried on a foreign metadata map are ignored; these are the
// only fields the core understands.
type RequestMetadata struct {
	// TTL is carried with the request; neither the proxy nor the storage
	// backends read it, so it sets no TTL on the entry this request produces.
	TTL *float64
	// RefreshTTLOnAccess is carried with the request but not read; sliding
	// expiration follows CacheOptions.RefreshOnAccess instead.
	RefreshTTLOnAccess *bool
	// SpecIgnore bypasses the RFC 9111 storability checks (but never the
	// no-store directive).
	SpecIgnore bool
	// BodyKey includes a hash of the request body in the cache key.
	BodyKey bool
}

// Request is an immutable snapshot of an HTTP request as seen by the cache.
// Method is normalized to uppercase ASCII; URL is normalized for scheme and
// host case while percent-encoding is preserved verbatim.
type Request struct {
	Method   string
	URL      *url.URL
	Header   http.Header
	Metadata RequestMetadata

	// Body, when non-nil, is consulted only when Metadata.BodyKey is set
	// (to fold the body into the cache key) or when the proxy tees the
	// body to the origin. The state machine never reads it.
	Body []byte
}

// NewRequest builds a Request from a method, URL and header set, normalizing
// the method to uppercase and the URL's scheme/host to lowercase.
func NewRequest(method string, u *url.URL, header http.Header) *Request {
	if header == nil {
		header = http.Header{}
	}
	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)
	return &Request{
		Method: strings.ToUpper(method),
		URL:    &normalized,
		Header: header.Clone(),
	}
}

// Clone returns a deep copy of the request's headers, leaving URL and method
// shared (both are treated as immutable once constructed).
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}

// CacheControl lazily parses the request's Cache-Control header.
func (r *Request) CacheControl() Directives {
	return ParseCacheControl(r.Header)
}
