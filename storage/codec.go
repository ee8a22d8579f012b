package storage

import (
	"encoding/json"
	"net/http"

	"github.com/sandrolain/rfccache"
)

// record is the self-describing, JSON-encoded bundle persisted as an
// entry's `data` blob (§6.5 of the design): method/URL/headers/status/
// metadata, everything except the body streams themselves. JSON is used in
// place of a binary self-describing format since none of the teacher's or
// the wider example pack's dependencies provide a CBOR/MessagePack codec;
// see the grounding ledger for the rationale.
type record struct {
	Method           string                     `json:"method"`
	URL              string                     `json:"url"`
	StatusCode       int                        `json:"status_code"`
	RequestHeaders   map[string][]string        `json:"request_headers"`
	ResponseHeaders  map[string][]string        `json:"response_headers"`
	RequestMetadata  rfccache.RequestMetadata   `json:"request_metadata"`
	ResponseMetadata rfccache.ResponseMetadata  `json:"response_metadata"`
	CreatedAt        float64                    `json:"created_at"`
}

// EncodeEntryData serializes the non-body portion of e into the blob a
// blob-oriented backend persists alongside its stream chunk tables.
func EncodeEntryData(e *Entry) ([]byte, error) {
	r := record{
		Method:           e.RequestMethod,
		URL:              e.RequestURL,
		StatusCode:       e.ResponseStatus,
		RequestHeaders:   map[string][]string(e.RequestHeader),
		ResponseHeaders:  map[string][]string(e.ResponseHeader),
		CreatedAt:        float64(e.Meta.CreatedAt.Unix()),
		RequestMetadata:  e.RequestMetadata,
		ResponseMetadata: e.ResponseMetadata,
	}
	return json.Marshal(r)
}

// DecodeEntryData reverses EncodeEntryData into the header/metadata fields
// of a fresh Entry; callers still need to attach ID, CacheKey, and Meta
// (CreatedAt/DeletedAt/TTL) from their own storage representation.
func DecodeEntryData(data []byte) (*Entry, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	e := &Entry{
		RequestMethod:    r.Method,
		RequestURL:       r.URL,
		ResponseStatus:   r.StatusCode,
		RequestHeader:    http.Header(r.RequestHeaders),
		ResponseHeader:   http.Header(r.ResponseHeaders),
		RequestMetadata:  r.RequestMetadata,
		ResponseMetadata: r.ResponseMetadata,
	}
	return e, nil
}
