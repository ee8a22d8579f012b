package rfccache

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CacheKey returns the storage key for req. GET and HEAD requests with the
// same normalized method+URL (and, when BodyKey is set, the same body hash)
// share an entry; other methods are keyed separately since their responses
// are rarely cacheable but the key still needs to be unambiguous for
// invalidation bookkeeping (RFC 9111 §4.4).
//
// The key is a 128-bit value built from two independent xxhash digests
// (of the key string and of the string reversed) rather than a single
// 64-bit hash, to keep collisions negligible for large cache populations
// without pulling in a dedicated 128-bit hash library the example pack does
// not otherwise exercise; see the grounding ledger for the rationale.
func CacheKey(req *Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL.String())

	if req.Metadata.BodyKey && len(req.Body) > 0 {
		b.WriteString("|body:")
		b.WriteString(strconv.FormatUint(xxhash.Sum64(req.Body), 16))
	}

	return hash128(b.String())
}

// CacheKeyWithVary folds the normalized Vary-named request header values
// into the base cache key, producing distinct keys for distinct variants of
// the same resource (RFC 9111 §4.1).
func CacheKeyWithVary(req *Request, respVaryHeader http.Header) string {
	base := req.Method + " " + req.URL.String()
	suffix := VaryCacheKeySuffix(respVaryHeader, req.Header)
	return hash128(base + suffix)
}

// CacheKeyWithHeaders folds additional, caller-chosen request header values
// into the cache key, independent of Vary, so deployments can split cache
// entries by e.g. Authorization or a tenant header.
func CacheKeyWithHeaders(req *Request, headers []string) string {
	key := req.Method + " " + req.URL.String()
	if len(headers) == 0 {
		return hash128(key)
	}
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		canonical := http.CanonicalHeaderKey(h)
		if v := req.Header.Get(canonical); v != "" {
			parts = append(parts, canonical+":"+v)
		}
	}
	if len(parts) == 0 {
		return hash128(key)
	}
	sort.Strings(parts)
	return hash128(key + "|" + strings.Join(parts, "|"))
}

func hash128(s string) string {
	reversed := reverseString(s)
	hi := xxhash.Sum64String(s)
	lo := xxhash.Sum64String(reversed)
	return strconv.FormatUint(hi, 16) + strconv.FormatUint(lo, 16)
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
