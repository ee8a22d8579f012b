package rfccache

import "net/http"

// ResponseMetadata is the observation-output bag the proxy populates on
// every response it returns, per §6.4. The origin never sets these; the
// proxy overwrites them unconditionally before returning.
type ResponseMetadata struct {
	// FromCache is true whenever the response body/headers originated
	// from a stored entry rather than a fresh origin fetch.
	FromCache bool
	// Revalidated is true iff a 304 freshened a stored entry, or an
	// origin round trip completed successfully for revalidation purposes.
	Revalidated bool
	// Stored is true iff the response was newly persisted.
	Stored bool
	// SpecIgnored is true iff the spec-ignore metadata branch was taken.
	SpecIgnored bool
	// CreatedAt is the POSIX timestamp of the stored entry, when known.
	CreatedAt float64
}

// Response is an immutable snapshot of an HTTP response as seen by the
// cache. Body is the response payload; it is not interpreted by the state
// machine, only streamed by the storage engine and proxy.
type Response struct {
	StatusCode int
	Header     http.Header
	Metadata   ResponseMetadata
	Body       []byte
}

// NewResponse builds a Response, defaulting a nil header to an empty set.
func NewResponse(statusCode int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: statusCode, Header: header.Clone(), Body: body}
}

// Clone returns a copy of the response with its own header map.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}

// CacheControl lazily parses the response's Cache-Control header.
func (r *Response) CacheControl() Directives {
	return ParseCacheControl(r.Header)
}

// IsError reports whether the status code is a client or server error,
// per RFC 9111 §4.4's "non-error response" condition for invalidation.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}
