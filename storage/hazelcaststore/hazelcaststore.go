// Package hazelcaststore is a storage.Backend backed by a Hazelcast
// distributed map, adapted from the teacher's hazelcast package. Hazelcast
// maps have no native secondary index usable from this client without a
// predicate DSL, so the cache-key -> entry-ID index is stored as its own
// JSON-encoded map entry and updated via ReplaceIfSame compare-and-swap.
package hazelcaststore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hazelcast/hazelcast-go-client"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func entryKeyName(id string) string     { return "entry:" + id }
func idxKeyName(cacheKey string) string { return "idx:" + cacheKey }
func streamKeyName(id string, kind storage.StreamKind, n int) string {
	return fmt.Sprintf("stream:%s:%d:%d", id, int(kind), n)
}

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Store is a storage.Backend backed by a *hazelcast.Map.
type Store struct {
	m  *hazelcast.Map
	gc storage.GCPolicy
}

// NewWithMap wraps an already-opened Hazelcast map.
func NewWithMap(m *hazelcast.Map) *Store {
	return &Store{m: m, gc: storage.DefaultGCPolicy()}
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
	if cacheKey != "" {
		if err := s.addToIndex(ctx, cacheKey, e.ID); err != nil {
			return nil, err
		}
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
	return s.m.Set(ctx, entryKeyName(e.ID), blob)
}

func (s *Store) get(ctx context.Context, id string) (*storage.Entry, *record, error) {
	val, err := s.m.Get(ctx, entryKeyName(id))
	if err != nil {
		return nil, nil, err
	}
	if val == nil {
		return nil, nil, nil
	}
	blob, ok := val.([]byte)
	if !ok {
		return nil, nil, nil
	}
	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
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

func (s *Store) readIDs(ctx context.Context, cacheKey string) ([]string, []byte, error) {
	val, err := s.m.Get(ctx, idxKeyName(cacheKey))
	if err != nil {
		return nil, nil, err
	}
	if val == nil {
		return nil, nil, nil
	}
	blob, _ := val.([]byte)
	var ids []string
	_ = json.Unmarshal(blob, &ids)
	return ids, blob, nil
}

func (s *Store) addToIndex(ctx context.Context, cacheKey, id string) error {
	for i := 0; i < 10; i++ {
		ids, old, err := s.readIDs(ctx, cacheKey)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		blob, _ := json.Marshal(ids)
		if old == nil {
			prev, err := s.m.PutIfAbsent(ctx, idxKeyName(cacheKey), blob)
			if err != nil {
				return err
			}
			if prev == nil {
				return nil
			}
			continue
		}
		replaced, err := s.m.ReplaceIfSame(ctx, idxKeyName(cacheKey), old, blob)
		if err != nil {
			return err
		}
		if replaced {
			return nil
		}
	}
	return fmt.Errorf("hazelcaststore: index update for %q failed after retries", cacheKey)
}

func (s *Store) removeFromIndex(ctx context.Context, cacheKey, id string) error {
	for i := 0; i < 10; i++ {
		ids, old, err := s.readIDs(ctx, cacheKey)
		if err != nil || old == nil {
			return err
		}
		kept := ids[:0]
		for _, v := range ids {
			if v != id {
				kept = append(kept, v)
			}
		}
		blob, _ := json.Marshal(kept)
		replaced, err := s.m.ReplaceIfSame(ctx, idxKeyName(cacheKey), old, blob)
		if err != nil {
			return err
		}
		if replaced {
			return nil
		}
	}
	return fmt.Errorf("hazelcaststore: index update for %q failed after retries", cacheKey)
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
	n    int
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	if err := w.s.m.Set(ctx, streamKeyName(w.id, w.kind, w.n), chunk); err != nil {
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
	val, err := r.s.m.Get(ctx, streamKeyName(r.id, r.kind, r.pos))
	if err != nil {
		return nil, true, err
	}
	if val == nil {
		return nil, true, nil
	}
	data, _ := val.([]byte)
	r.pos++
	return data, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	return &bodyReader{s: s, id: entryID, kind: kind}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	ids, _, err := s.readIDs(ctx, cacheKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*storage.Entry
	for _, id := range ids {
		e, rec, err := s.get(ctx, id)
		if err != nil || e == nil {
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
	if current.CacheKey != updated.CacheKey {
		if current.CacheKey != "" {
			_ = s.removeFromIndex(ctx, current.CacheKey, id)
		}
		if updated.CacheKey != "" {
			_ = s.addToIndex(ctx, updated.CacheKey, id)
		}
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
	ids, _, err := s.readIDs(ctx, cacheKey)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RemoveEntry(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup is a no-op: Hazelcast maps have no cheap full-scan primitive in
// this client without a distributed predicate query, so abandoned/expired
// entries are left to the cluster's own map-wide TTL/eviction policy.
func (s *Store) Cleanup(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
