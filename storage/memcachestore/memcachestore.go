// Package memcachestore is a storage.Backend backed by
// github.com/bradfitz/gomemcache, the client the teacher's memcache package
// wraps. Memcached has no iteration or secondary index, so the cache-key ->
// entry-ID index is itself stored as a small JSON blob under an "idx:" key
// and updated with compare-and-swap to stay race-free under concurrent
// writers (gomemcache's CompareAndSwap over Gets' cas id).
package memcachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/google/uuid"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func entryKey(id string) string     { return "rfccache:entry:" + id }
func idxKey(cacheKey string) string { return "rfccache:idx:" + cacheKey }
func streamKey(id string, kind storage.StreamKind, n int) string {
	return fmt.Sprintf("rfccache:stream:%s:%d:%d", id, int(kind), n)
}
func countKey(id string, kind storage.StreamKind) string {
	return fmt.Sprintf("rfccache:streamcount:%s:%d", id, int(kind))
}

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Store is a storage.Backend backed by a memcached cluster.
type Store struct {
	client *memcache.Client
	gc     storage.GCPolicy
}

// New returns a new Store using the given memcache server(s).
func New(server ...string) *Store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient wraps an already-configured memcache.Client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client: client, gc: storage.DefaultGCPolicy()}
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

	if err := s.putEntry(e); err != nil {
		return nil, err
	}
	if cacheKey != "" {
		if err := s.addToIndex(cacheKey, e.ID); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Store) putEntry(e *storage.Entry) error {
	data, err := storage.EncodeEntryData(e)
	if err != nil {
		return err
	}
	rec := record{Data: data, CacheKey: e.CacheKey, CreatedAt: e.Meta.CreatedAt, DeletedAt: e.Meta.DeletedAt}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{Key: entryKey(e.ID), Value: blob})
}

func (s *Store) getEntry(id string) (*storage.Entry, *record, error) {
	item, err := s.client.Get(entryKey(id))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var rec record
	if err := json.Unmarshal(item.Value, &rec); err != nil {
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

// addToIndex appends id to the cache-key's id list using CAS, retrying on
// conflicting concurrent writers.
func (s *Store) addToIndex(cacheKey, id string) error {
	for i := 0; i < 10; i++ {
		item, err := s.client.Get(idxKey(cacheKey))
		if err == memcache.ErrCacheMiss {
			ids := []string{id}
			blob, _ := json.Marshal(ids)
			if err := s.client.Add(&memcache.Item{Key: idxKey(cacheKey), Value: blob}); err != nil {
				if err == memcache.ErrNotStored {
					continue
				}
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		var ids []string
		_ = json.Unmarshal(item.Value, &ids)
		ids = append(ids, id)
		blob, _ := json.Marshal(ids)
		item.Value = blob
		if err := s.client.CompareAndSwap(item); err != nil {
			if err == memcache.ErrCASConflict {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("memcachestore: index update for %q failed after retries", cacheKey)
}

func (s *Store) removeFromIndex(cacheKey, id string) error {
	for i := 0; i < 10; i++ {
		item, err := s.client.Get(idxKey(cacheKey))
		if err == memcache.ErrCacheMiss {
			return nil
		}
		if err != nil {
			return err
		}
		var ids []string
		_ = json.Unmarshal(item.Value, &ids)
		kept := ids[:0]
		for _, v := range ids {
			if v != id {
				kept = append(kept, v)
			}
		}
		blob, _ := json.Marshal(kept)
		item.Value = blob
		if err := s.client.CompareAndSwap(item); err != nil {
			if err == memcache.ErrCASConflict {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("memcachestore: index update for %q failed after retries", cacheKey)
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
	n    int
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	if err := w.s.client.Set(&memcache.Item{Key: streamKey(w.id, w.kind, w.n), Value: chunk}); err != nil {
		return err
	}
	w.n++
	return w.s.client.Set(&memcache.Item{Key: countKey(w.id, w.kind), Value: []byte(fmt.Sprint(w.n))})
}

func (w *bodyWriter) Finish(ctx context.Context) error { return nil }

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	s     *Store
	id    string
	kind  storage.StreamKind
	pos   int
	total int
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if r.pos >= r.total {
		return nil, true, nil
	}
	item, err := r.s.client.Get(streamKey(r.id, r.kind, r.pos))
	if err != nil {
		return nil, true, err
	}
	r.pos++
	return item.Value, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	total := 0
	if item, err := s.client.Get(countKey(entryID, kind)); err == nil {
		fmt.Sscanf(string(item.Value), "%d", &total)
	}
	return &bodyReader{s: s, id: entryID, kind: kind, total: total}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	item, err := s.client.Get(idxKey(cacheKey))
	if err == memcache.ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(item.Value, &ids); err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*storage.Entry
	for _, id := range ids {
		e, rec, err := s.getEntry(id)
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
			_ = s.putEntry(e)
		}
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	current, _, err := s.getEntry(id)
	if err != nil || current == nil {
		return nil, err
	}
	updated, err := fn(current)
	if err != nil || updated == nil {
		return nil, err
	}
	if current.CacheKey != updated.CacheKey {
		if current.CacheKey != "" {
			_ = s.removeFromIndex(current.CacheKey, id)
		}
		if updated.CacheKey != "" {
			_ = s.addToIndex(updated.CacheKey, id)
		}
	}
	if err := s.putEntry(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	e, _, err := s.getEntry(id)
	if err != nil || e == nil {
		return err
	}
	now := time.Now()
	e.Meta.DeletedAt = &now
	return s.putEntry(e)
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	item, err := s.client.Get(idxKey(cacheKey))
	if err == memcache.ErrCacheMiss {
		return nil
	}
	if err != nil {
		return err
	}
	var ids []string
	if err := json.Unmarshal(item.Value, &ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RemoveEntry(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup is a no-op: memcached's own LRU eviction and per-item TTLs
// reclaim abandoned entries, and there is no enumeration primitive to scan
// for soft-deleted entries past their grace period.
func (s *Store) Cleanup(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
