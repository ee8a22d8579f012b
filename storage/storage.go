// Package storage defines the persistence engine for request/response
// pairs: entry create/read/update/soft-delete, chunked body streams, TTL
// expiry, and garbage collection, per the two-table (entries, streams)
// model backends are expected to implement.
package storage

import (
	"context"
	"net/http"
	"time"

	"github.com/sandrolain/rfccache"
)

// StreamKind distinguishes request-body from response-body chunk records.
type StreamKind int

const (
	KindRequest StreamKind = iota
	KindResponse
)

// EndOfStream is the sentinel chunk number marking a stream complete.
const EndOfStream = -1

// Chunk is one piece of a stored body stream.
type Chunk struct {
	EntryID     string
	Kind        StreamKind
	ChunkNumber int
	Data        []byte
}

// EntryMeta carries the few fields Entry persists outside the header/body
// snapshot itself.
type EntryMeta struct {
	CreatedAt time.Time
	DeletedAt *time.Time
	TTL       *time.Duration
}

// Entry is a stored request/response pair. It is incomplete until Response
// is attached and CacheKey is set (invariant I3 in the design notes).
type Entry struct {
	ID       string
	CacheKey string // empty iff incomplete

	RequestMethod string
	RequestURL    string
	RequestHeader http.Header

	ResponseStatus int
	ResponseHeader http.Header

	RequestMetadata  rfccache.RequestMetadata
	ResponseMetadata rfccache.ResponseMetadata

	Meta EntryMeta
}

// Complete reports whether the entry has a response attached and a cache
// key assigned (invariant I3).
func (e *Entry) Complete() bool {
	return e.CacheKey != "" && e.ResponseStatus != 0
}

// ToStoredEntry projects an Entry into the minimal view the sans-I/O state
// machine consumes.
func (e *Entry) ToStoredEntry() *rfccache.StoredEntry {
	return &rfccache.StoredEntry{
		ID:             e.ID,
		RequestHeader:  rfccache.ToHeaderMap(e.RequestHeader),
		ResponseHeader: rfccache.ToHeaderMap(e.ResponseHeader),
		ResponseStatus: e.ResponseStatus,
		CreatedAt:      e.Meta.CreatedAt,
		TTL:            e.Meta.TTL,
	}
}

// BodyReader streams a stored body's chunks in order. Implementations read
// lazily from the backend; Close releases any held cursor/connection.
type BodyReader interface {
	Next(ctx context.Context) (chunk []byte, end bool, err error)
	Close() error
}

// BodyWriter accepts body chunks for persistence; Finish writes the
// end-of-stream sentinel (invariant I2).
type BodyWriter interface {
	Write(ctx context.Context, chunk []byte) error
	Finish(ctx context.Context) error
}

// Backend is the storage engine interface the proxy is written against
// (§6.1 of the design). Implementations live in sibling packages (memstore,
// pgstore, redisstore, ...), one per backing technology.
type Backend interface {
	// CreateEntry inserts a new entry. If req is non-nil its method/URL/
	// header are snapshotted as RequestHeader et al.; cacheKey may be empty
	// to create an incomplete entry the caller completes with UpdateEntry.
	CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*Entry, error)

	// OpenBodyWriter and OpenBodyReader return a chunk writer or reader for
	// the named entry's request or response stream, selected by kind.
	OpenBodyWriter(ctx context.Context, entryID string, kind StreamKind) (BodyWriter, error)
	OpenBodyReader(ctx context.Context, entryID string, kind StreamKind) (BodyReader, error)

	// GetEntries returns all complete, non-soft-deleted, non-expired
	// entries sharing cacheKey. refreshTTL controls whether a hit resets a
	// sliding-expiration entry's clock (CacheOptions.RefreshOnAccess).
	GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*Entry, error)

	// UpdateEntry applies fn to the current state of the entry identified
	// by id and persists the result atomically with respect to GetEntries.
	// Returns nil, nil if no such entry exists.
	UpdateEntry(ctx context.Context, id string, fn func(*Entry) (*Entry, error)) (*Entry, error)

	// RemoveEntry soft-deletes the entry (sets Meta.DeletedAt).
	RemoveEntry(ctx context.Context, id string) error

	// RemoveByCacheKey soft-deletes every entry sharing cacheKey, used by
	// unsafe-method invalidation.
	RemoveByCacheKey(ctx context.Context, cacheKey string) error

	// Cleanup hard-deletes entries per the grace-period/TTL/abandoned-entry
	// rules. The proxy does not call it; callers invoke it themselves.
	Cleanup(ctx context.Context) error

	Close() error
}

// GCPolicy bundles the cleanup thresholds from §4.7 of the design so
// backends share one source of truth instead of hardcoding durations.
type GCPolicy struct {
	// SoftDeleteGrace is how long a soft-deleted entry survives before hard
	// deletion (recommended 7 days).
	SoftDeleteGrace time.Duration
	// AbandonedIncomplete is the age at which an incomplete entry (no
	// response attached) is considered abandoned.
	AbandonedIncomplete time.Duration
	// MinInterval rate-limits opportunistic cleanup triggering.
	MinInterval time.Duration
}

// DefaultGCPolicy matches the design's recommended defaults.
func DefaultGCPolicy() GCPolicy {
	return GCPolicy{
		SoftDeleteGrace:     7 * 24 * time.Hour,
		AbandonedIncomplete: time.Hour,
		MinInterval:         60 * time.Second,
	}
}
