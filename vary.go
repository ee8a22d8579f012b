package rfccache

import (
	"net/http"
	"sort"
	"strings"
)

// varyFields splits a Vary header value into its canonical field names.
func varyFields(header http.Header) []string {
	raw := header.Values(headerVary)
	var fields []string
	for _, line := range raw {
		for _, f := range strings.Split(line, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// normalizeHeaderValue collapses whitespace runs to a single space and
// removes spaces after commas, so that equivalent but differently formatted
// header values (RFC 9111 §4.1) compare equal.
func normalizeHeaderValue(value string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range strings.TrimSpace(value) {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return strings.ReplaceAll(b.String(), ", ", ",")
}

// VaryMatches reports whether the stored entry's request header snapshot
// (storedReqHeader) matches the incoming request req, given the varied
// fields named in the stored response's Vary header. A stored "Vary: *"
// never matches (RFC 9111 §4.1).
func VaryMatches(respHeader http.Header, storedReqHeader, req http.Header) bool {
	fields := varyFields(respHeader)
	for _, f := range fields {
		if f == "*" {
			return false
		}
	}
	for _, f := range fields {
		canonical := http.CanonicalHeaderKey(f)
		if canonical == "" {
			continue
		}
		if normalizeHeaderValue(req.Get(canonical)) != normalizeHeaderValue(storedReqHeader.Get(canonical)) {
			return false
		}
	}
	return true
}

// VarySnapshot extracts the request header values named by the response's
// Vary header, normalized, for persistence alongside a stored entry so a
// later VaryMatches call can compare against them.
func VarySnapshot(respHeader, reqHeader http.Header) http.Header {
	snapshot := http.Header{}
	for _, f := range varyFields(respHeader) {
		canonical := http.CanonicalHeaderKey(f)
		if canonical == "" || canonical == "*" {
			continue
		}
		snapshot.Set(canonical, normalizeHeaderValue(reqHeader.Get(canonical)))
	}
	return snapshot
}

// VaryCacheKeySuffix returns a deterministic suffix encoding the normalized
// vary-field values of req, for folding into a cache key so that distinct
// variants of the same URL occupy distinct entries.
func VaryCacheKeySuffix(respHeader http.Header, reqHeader http.Header) string {
	fields := varyFields(respHeader)
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		canonical := http.CanonicalHeaderKey(f)
		if canonical == "" || canonical == "*" {
			continue
		}
		parts = append(parts, canonical+":"+normalizeHeaderValue(reqHeader.Get(canonical)))
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return "|vary:" + strings.Join(parts, "|")
}
