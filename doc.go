// Package rfccache implements the decision logic of RFC 9111 (HTTP Caching)
// as a sans-I/O state machine: it parses Cache-Control/Vary/Age/Date/
// Expires/ETag/Last-Modified, computes freshness, decides whether a
// request/response pair may be stored, builds conditional revalidation
// requests, and merges 304 responses back into stored entries.
//
// The package performs no network or storage I/O itself. It consumes
// Requests, Responses, and previously stored Entries and returns the next
// state to run; collaborators (the storage engine in the storage
// subpackage, and the driver in the proxy subpackage) carry out the I/O
// the state machine asks for.
package rfccache
