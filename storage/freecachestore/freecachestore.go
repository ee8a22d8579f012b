// Package freecachestore is a storage.Backend backed by
// github.com/coocood/freecache, the zero-GC-overhead bounded cache the
// teacher's freecache package wraps. freecache has no iteration or prefix
// scan, so the cache-key -> entry-id index and stream chunk counts are kept
// in a small guarded in-process map alongside the freecache blob store.
package freecachestore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/google/uuid"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func entryKey(id string) []byte { return []byte("entry:" + id) }
func streamChunkKey(id string, kind storage.StreamKind, n int) []byte {
	return []byte(fmt.Sprintf("stream:%s:%d:%d", id, int(kind), n))
}

type meta struct {
	cacheKey    string
	createdAt   time.Time
	deletedAt   *time.Time
	ttl         *time.Duration
	reqChunks   int
	respChunks  int
}

// Store is a storage.Backend backed by a fixed-size freecache.Cache.
type Store struct {
	mu    sync.RWMutex
	cache *freecache.Cache
	index map[string]map[string]struct{} // cacheKey -> set of entry IDs
	metas map[string]*meta
	gc    storage.GCPolicy
}

// New creates a Store backed by a freecache.Cache of the given byte size.
func New(size int) *Store {
	return &Store{
		cache: freecache.NewCache(size),
		index: make(map[string]map[string]struct{}),
		metas: make(map[string]*meta),
		gc:    storage.DefaultGCPolicy(),
	}
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

	data, err := storage.EncodeEntryData(e)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Set(entryKey(e.ID), data, 0); err != nil {
		return nil, fmt.Errorf("freecachestore: create entry: %w", err)
	}
	s.metas[e.ID] = &meta{cacheKey: cacheKey, createdAt: e.Meta.CreatedAt}
	if cacheKey != "" {
		s.indexLocked(cacheKey, e.ID)
	}
	return e, nil
}

func (s *Store) indexLocked(cacheKey, id string) {
	set, ok := s.index[cacheKey]
	if !ok {
		set = make(map[string]struct{})
		s.index[cacheKey] = set
	}
	set[id] = struct{}{}
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	m, ok := w.s.metas[w.id]
	if !ok {
		return fmt.Errorf("freecachestore: unknown entry %q", w.id)
	}
	n := m.reqChunks
	if w.kind == storage.KindResponse {
		n = m.respChunks
	}
	if err := w.s.cache.Set(streamChunkKey(w.id, w.kind, n), chunk, 0); err != nil {
		return err
	}
	if w.kind == storage.KindRequest {
		m.reqChunks++
	} else {
		m.respChunks++
	}
	return nil
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
	v, err := r.s.cache.Get(streamChunkKey(r.id, r.kind, r.pos))
	if err != nil {
		return nil, true, err
	}
	r.pos++
	return v, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metas[entryID]
	if !ok {
		return nil, fmt.Errorf("freecachestore: unknown entry %q", entryID)
	}
	total := m.reqChunks
	if kind == storage.KindResponse {
		total = m.respChunks
	}
	return &bodyReader{s: s, id: entryID, kind: kind, total: total}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []*storage.Entry
	for id := range s.index[cacheKey] {
		m, ok := s.metas[id]
		if !ok || m.deletedAt != nil {
			continue
		}
		if m.ttl != nil && now.Sub(m.createdAt) > *m.ttl {
			continue
		}
		data, err := s.cache.Get(entryKey(id))
		if err != nil {
			continue
		}
		e, err := storage.DecodeEntryData(data)
		if err != nil {
			continue
		}
		e.ID = id
		e.CacheKey = cacheKey
		e.Meta.CreatedAt = m.createdAt
		e.Meta.TTL = m.ttl
		out = append(out, e)
		if refreshTTL {
			m.createdAt = now
		}
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metas[id]
	if !ok {
		return nil, nil
	}
	data, err := s.cache.Get(entryKey(id))
	if err != nil {
		return nil, nil
	}
	current, err := storage.DecodeEntryData(data)
	if err != nil {
		return nil, err
	}
	current.ID = id
	current.CacheKey = m.cacheKey
	current.Meta.CreatedAt = m.createdAt
	current.Meta.DeletedAt = m.deletedAt

	updated, err := fn(current)
	if err != nil || updated == nil {
		return nil, err
	}

	newData, err := storage.EncodeEntryData(updated)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(entryKey(id), newData, 0); err != nil {
		return nil, err
	}
	if m.cacheKey != updated.CacheKey {
		if m.cacheKey != "" {
			delete(s.index[m.cacheKey], id)
		}
		if updated.CacheKey != "" {
			s.indexLocked(updated.CacheKey, id)
		}
		m.cacheKey = updated.CacheKey
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[id]
	if !ok {
		return nil
	}
	now := time.Now()
	m.deletedAt = &now
	return nil
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.index[cacheKey]))
	for id := range s.index[cacheKey] {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.RemoveEntry(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup hard-deletes index/meta bookkeeping for soft-deleted or abandoned
// entries; the underlying freecache blobs are left for its own LRU/GC to
// reclaim since freecache exposes no per-key delete-by-prefix primitive
// beyond Del, which Cleanup also issues for the entry's own key.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, m := range s.metas {
		expired := (m.deletedAt != nil && now.Sub(*m.deletedAt) > s.gc.SoftDeleteGrace) ||
			(m.respChunks == 0 && now.Sub(m.createdAt) > s.gc.AbandonedIncomplete)
		if !expired {
			continue
		}
		s.cache.Del(entryKey(id))
		if m.cacheKey != "" {
			delete(s.index[m.cacheKey], id)
		}
		delete(s.metas, id)
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
