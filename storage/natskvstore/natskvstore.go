// Package natskvstore is a storage.Backend backed by a NATS JetStream
// Key/Value bucket, adapted from the teacher's natskv package. JetStream KV
// supports key enumeration (jetstream.KeyValue.Keys), so cache-key lookups
// scan and filter entry keys rather than maintaining a separate index, the
// same approach diskvstore takes.
package natskvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// Config holds the configuration for creating a natskvstore.Store.
type Config struct {
	NATSUrl     string
	Bucket      string
	Description string
	TTL         time.Duration
	NATSOptions []nats.Option
}

// New connects to NATS and creates or reuses the configured K/V bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("natskvstore: bucket name is required")
	}
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, cfg.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natskvstore: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskvstore: jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: cfg.Description,
		TTL:         cfg.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskvstore: create bucket: %w", err)
	}
	return &Store{kv: kv, gc: storage.DefaultGCPolicy()}, nil
}

func entryKeyName(id string) string { return "entry_" + id }
func streamKeyName(id string, kind storage.StreamKind, n int) string {
	return fmt.Sprintf("stream_%s_%d_%06d", id, int(kind), n)
}

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Store is a storage.Backend backed by a jetstream.KeyValue bucket.
type Store struct {
	kv jetstream.KeyValue
	gc storage.GCPolicy
}

// NewWithKeyValue wraps an already-provisioned KV bucket.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv, gc: storage.DefaultGCPolicy()}
}

func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	e := &storage.Entry{
		ID:       uuid.NewString(),
		CacheKey: cacheKey,
		Meta:     storage.EntryMeta{CreatedAt: time.Now()},
	}
	if req != nil {
		e.RequestMethod = req.Method
		e.RequestURL = req.URL.String()
		e.RequestHeader = req.Header.Clone()
		e.RequestMetadata = req.Metadata
	}
	if resp != nil {
		e.ResponseStatus = resp.StatusCode
		e.ResponseHeader = resp.Header.Clone()
		e.ResponseMetadata = resp.Metadata
	}
	if err := s.put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) put(ctx context.Context, e *storage.Entry) error {
	data, err := storage.EncodeEntryData(e)
	if err != nil {
		return err
	}
	rec := record{Data: data, CacheKey: e.CacheKey, CreatedAt: e.Meta.CreatedAt, DeletedAt: e.Meta.DeletedAt}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(ctx, entryKeyName(e.ID), blob)
	return err
}

func (s *Store) get(ctx context.Context, id string) (*storage.Entry, *record, error) {
	kve, err := s.kv.Get(ctx, entryKeyName(id))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var rec record
	if err := json.Unmarshal(kve.Value(), &rec); err != nil {
		return nil, nil, err
	}
	e, err := storage.DecodeEntryData(rec.Data)
	if err != nil {
		return nil, nil, err
	}
	e.ID = id
	e.CacheKey = rec.CacheKey
	e.Meta.CreatedAt = rec.CreatedAt
	e.Meta.DeletedAt = rec.DeletedAt
	return e, &rec, nil
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
	n    int
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	if _, err := w.s.kv.Put(ctx, streamKeyName(w.id, w.kind, w.n), chunk); err != nil {
		return err
	}
	w.n++
	return nil
}

func (w *bodyWriter) Finish(ctx context.Context) error { return nil }

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	s    *Store
	id   string
	kind storage.StreamKind
	pos  int
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	kve, err := r.s.kv.Get(ctx, streamKeyName(r.id, r.kind, r.pos))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, true, nil
		}
		return nil, true, err
	}
	r.pos++
	return kve.Value(), false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	return &bodyReader{s: s, id: entryID, kind: kind}, nil
}

func (s *Store) listEntryIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, k := range keys {
		if strings.HasPrefix(k, "entry_") {
			ids = append(ids, strings.TrimPrefix(k, "entry_"))
		}
	}
	return ids, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	ids, err := s.listEntryIDs(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*storage.Entry
	for _, id := range ids {
		e, rec, err := s.get(ctx, id)
		if err != nil || e == nil || e.CacheKey != cacheKey {
			continue
		}
		if rec.DeletedAt != nil {
			continue
		}
		if e.Meta.TTL != nil && now.Sub(e.Meta.CreatedAt) > *e.Meta.TTL {
			continue
		}
		out = append(out, e)
		if refreshTTL {
			e.Meta.CreatedAt = now
			_ = s.put(ctx, e)
		}
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	current, _, err := s.get(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	updated, err := fn(current)
	if err != nil || updated == nil {
		return nil, err
	}
	if err := s.put(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	e, _, err := s.get(ctx, id)
	if err != nil || e == nil {
		return err
	}
	now := time.Now()
	e.Meta.DeletedAt = &now
	return s.put(ctx, e)
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	entries, err := s.GetEntries(ctx, cacheKey, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.RemoveEntry(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup purges soft-deleted or abandoned-incomplete entries by scanning
// all entry keys in the bucket.
func (s *Store) Cleanup(ctx context.Context) error {
	ids, err := s.listEntryIDs(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		e, rec, err := s.get(ctx, id)
		if err != nil || e == nil {
			continue
		}
		expired := (rec.DeletedAt != nil && now.Sub(*rec.DeletedAt) > s.gc.SoftDeleteGrace) ||
			(!e.Complete() && now.Sub(e.Meta.CreatedAt) > s.gc.AbandonedIncomplete)
		if expired {
			_ = s.kv.Delete(ctx, entryKeyName(id))
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
