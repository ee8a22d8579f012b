package rfccache

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Well-known Cache-Control directive names and other header constants used
// throughout the package. Grounded on the constant block the teacher kept in
// its root package file.
const (
	directiveOnlyIfCached         = "only-if-cached"
	directiveNoCache              = "no-cache"
	directiveNoStore              = "no-store"
	directiveStaleWhileRevalidate = "stale-while-revalidate"
	directiveStaleIfError         = "stale-if-error"
	directiveMaxAge               = "max-age"
	directiveMinFresh             = "min-fresh"
	directiveMaxStale             = "max-stale"
	directivePrivate              = "private"
	directivePublic               = "public"
	directiveMustUnderstand       = "must-understand"
	directiveMustRevalidate       = "must-revalidate"
	directiveSMaxAge              = "s-maxage"
	directiveImmutable            = "immutable"
	directiveNoTransform          = "no-transform"

	headerPragma         = "Pragma"
	pragmaNoCache        = "no-cache"
	headerWarning        = "Warning"
	headerLocation       = "Location"
	headerContentLocation = "Content-Location"
	headerVary           = "Vary"
	headerXVariedPrefix  = "X-Varied-"

	warningResponseIsStale    = `110 - "Response is Stale"`
	warningRevalidationFailed = `111 - "Revalidation Failed"`
)

// understoodStatusCodes lists the HTTP status codes this cache understands
// per RFC 9111 §5.2.2.3 must-understand processing.
var understoodStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true, 404: true, 405: true,
	410: true, 414: true, 501: true,
}

// Directives is a parsed Cache-Control header: directive name to its value
// (empty string for valueless directives such as no-store).
type Directives map[string]string

// Has reports whether the named directive is present.
func (d Directives) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Seconds returns the directive's value parsed as a non-negative integer
// number of seconds, and whether it was present and valid.
func (d Directives) Seconds(name string) (int64, bool) {
	v, ok := d[name]
	if !ok {
		return 0, false
	}
	if v == "" || strings.Contains(v, ".") {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseCacheControl parses the Cache-Control header from header, applying
// RFC 9111 §4.2.1 duplicate and conflict handling: the first occurrence of a
// directive wins, and conflicting pairs resolve to the more restrictive
// directive. Problems are logged at Warn via GetLogger, never returned as
// errors — a malformed Cache-Control header degrades gracefully rather than
// failing the request.
func ParseCacheControl(header http.Header) Directives {
	cc := Directives{}
	seen := make(map[string]bool)
	log := GetLogger()

	for _, part := range strings.Split(header.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var name, value string
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			value = strings.Trim(strings.TrimSpace(part[idx+1:]), `"`)
		} else {
			name = part
		}
		name = strings.ToLower(name)

		if seen[name] {
			log.Warn("duplicate Cache-Control directive, using first value",
				"directive", name, "ignored_value", value)
			continue
		}
		seen[name] = true
		cc[name] = value
	}

	resolveConflicts(cc, log)
	return cc
}

func resolveConflicts(cc Directives, log *slog.Logger) {
	if cc.Has(directivePrivate) && cc.Has(directivePublic) {
		log.Warn("conflicting Cache-Control directives", "conflict", "public+private", "resolution", "private wins")
		delete(cc, directivePublic)
	}
	if cc.Has(directiveNoStore) && cc.Has(directiveMaxAge) {
		log.Warn("conflicting Cache-Control directives", "conflict", "no-store+max-age", "resolution", "no-store wins")
	}
	if cc.Has(directiveNoCache) && cc.Has(directiveMaxAge) {
		log.Warn("conflicting Cache-Control directives", "conflict", "no-cache+max-age", "resolution", "no-cache forces revalidation")
	}

	validateSeconds(cc, directiveMaxAge, log)
	validateSeconds(cc, directiveSMaxAge, log)
}

func validateSeconds(cc Directives, name string, log *slog.Logger) {
	v, ok := cc[name]
	if !ok || v == "" {
		return
	}
	if strings.Contains(v, ".") {
		log.Warn("invalid Cache-Control value, ignoring directive", "directive", name, "value", v)
		delete(cc, name)
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn("invalid Cache-Control value, ignoring directive", "directive", name, "value", v)
		delete(cc, name)
		return
	}
	if n < 0 {
		log.Warn("negative Cache-Control value, treating as zero", "directive", name, "value", v)
		cc[name] = "0"
	}
}
