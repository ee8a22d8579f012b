package rfccache

import (
	"net/http"
	"time"
)

// hopByHopHeaders are never copied from an origin response into a merged
// cache entry; RFC 9110 §7.6.1 plus any fields the response's own
// Connection header names.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// BuildRevalidationRequest returns a copy of req with the conditional
// validators from the stored response attached, per RFC 9111 §4.3.1: an
// ETag becomes If-None-Match, and Last-Modified becomes If-Modified-Since
// when no ETag is present.
func BuildRevalidationRequest(req *Request, storedResp *Response) *Request {
	out := req.Clone()
	if etag := storedResp.Header.Get("ETag"); etag != "" {
		out.Header.Set("If-None-Match", etag)
	} else if lm := storedResp.Header.Get("Last-Modified"); lm != "" {
		out.Header.Set("If-Modified-Since", lm)
	}
	return out
}

// MergeNotModified returns a copy of storedResp updated with the end-to-end
// headers carried by a 304 response (storedResp itself is left unchanged), per RFC 9111 §4.3.4, recomputing Age from the
// freshened Date/Age pair. now is the proxy's clock reading when the 304
// was received.
func MergeNotModified(storedResp, notModified *Response, requestTime, responseTime, now time.Time) *Response {
	merged := storedResp.Clone()
	for header, values := range notModified.Header {
		if isHopByHop(notModified.Header, header) {
			continue
		}
		merged.Header[header] = values
	}
	merged.Metadata.Revalidated = true

	if age, err := CurrentAge(merged, requestTime, responseTime, now); err == nil {
		merged.Header.Set("Age", FormatAge(age))
	}
	return merged
}

func isHopByHop(header http.Header, name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for _, h := range hopByHopHeaders {
		if canonical == h {
			return true
		}
	}
	for _, connHeader := range header.Values("Connection") {
		if http.CanonicalHeaderKey(connHeader) == canonical {
			return true
		}
	}
	return false
}

// ShouldServeStaleOnError reports whether a GET's stored stale response
// should be returned instead of propagating an origin failure, combining
// the stale-if-error window with the nature of the origin outcome
// (transport error, or any 5xx response).
func ShouldServeStaleOnError(req *Request, stored *Response, originErr error, originResp *Response, currentAge time.Duration) bool {
	if req.Method != http.MethodGet || stored == nil {
		return false
	}
	hasTransportError := originErr != nil
	hasServerError := originResp != nil && originResp.StatusCode >= 500
	if !hasTransportError && !hasServerError {
		return false
	}
	return CanServeStaleOnError(req, stored, currentAge)
}
