package rfccache

// AddWarning appends a Warning header value to resp. Warning headers stack
// (Add, not Set). RFC 9111 has formally obsoleted the Warning header field;
// callers that want strict RFC 9111 output should skip these helpers via
// CacheOptions.DisableWarnings.
func AddWarning(resp *Response, code string) {
	resp.Header.Add(headerWarning, code)
}

// AddStaleWarning adds the "110 Response is Stale" warning.
func AddStaleWarning(resp *Response) {
	AddWarning(resp, warningResponseIsStale)
}

// AddRevalidationFailedWarning adds the "111 Revalidation Failed" warning.
func AddRevalidationFailedWarning(resp *Response) {
	AddWarning(resp, warningRevalidationFailed)
}
