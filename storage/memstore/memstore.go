// Package memstore is an in-process storage.Backend backed by a guarded
// map, the reference implementation the storage package is designed
// against and a drop-in for tests and single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

type record struct {
	entry        storage.Entry
	requestBody  [][]byte
	responseBody [][]byte
	reqComplete  bool
	respComplete bool
}

// Store is a concurrency-safe in-memory storage.Backend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*record
	byKey   map[string]map[string]struct{}
	gc      storage.GCPolicy
}

// New builds an empty Store using storage.DefaultGCPolicy.
func New() *Store {
	return &Store{
		entries: make(map[string]*record),
		byKey:   make(map[string]map[string]struct{}),
		gc:      storage.DefaultGCPolicy(),
	}
}

func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	e := storage.Entry{
		ID:       id,
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

	rec := &record{entry: e}
	s.entries[id] = rec
	if cacheKey != "" {
		s.indexKey(cacheKey, id)
	}

	out := e
	return &out, nil
}

func (s *Store) indexKey(cacheKey, id string) {
	set, ok := s.byKey[cacheKey]
	if !ok {
		set = make(map[string]struct{})
		s.byKey[cacheKey] = set
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
	rec, ok := w.s.entries[w.id]
	if !ok {
		return fmt.Errorf("memstore: unknown entry %q", w.id)
	}
	cp := append([]byte(nil), chunk...)
	if w.kind == storage.KindRequest {
		rec.requestBody = append(rec.requestBody, cp)
	} else {
		rec.responseBody = append(rec.responseBody, cp)
	}
	return nil
}

func (w *bodyWriter) Finish(ctx context.Context) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	rec, ok := w.s.entries[w.id]
	if !ok {
		return fmt.Errorf("memstore: unknown entry %q", w.id)
	}
	if w.kind == storage.KindRequest {
		rec.reqComplete = true
	} else {
		rec.respComplete = true
	}
	return nil
}

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	s.mu.RLock()
	_, ok := s.entries[entryID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memstore: unknown entry %q", entryID)
	}
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	chunks [][]byte
	pos    int
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if r.pos >= len(r.chunks) {
		return nil, true, nil
	}
	c := r.chunks[r.pos]
	r.pos++
	return c, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("memstore: unknown entry %q", entryID)
	}
	var chunks [][]byte
	if kind == storage.KindRequest {
		chunks = rec.requestBody
	} else {
		chunks = rec.responseBody
	}
	return &bodyReader{chunks: chunks}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byKey[cacheKey]
	now := time.Now()
	var out []*storage.Entry
	for id := range ids {
		rec, ok := s.entries[id]
		if !ok {
			continue
		}
		if rec.entry.Meta.DeletedAt != nil {
			continue
		}
		if !rec.respComplete || !rec.entry.Complete() {
			continue
		}
		if rec.entry.Meta.TTL != nil && now.Sub(rec.entry.Meta.CreatedAt) > *rec.entry.Meta.TTL {
			continue
		}
		if refreshTTL {
			rec.entry.Meta.CreatedAt = now
		}
		e := rec.entry
		out = append(out, &e)
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	current := rec.entry
	updated, err := fn(&current)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	if rec.entry.CacheKey != updated.CacheKey {
		if rec.entry.CacheKey != "" {
			delete(s.byKey[rec.entry.CacheKey], id)
		}
		if updated.CacheKey != "" {
			s.indexKey(updated.CacheKey, id)
		}
	}
	rec.entry = *updated

	out := rec.entry
	return &out, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entries[id]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.entry.Meta.DeletedAt = &now
	return nil
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id := range s.byKey[cacheKey] {
		if rec, ok := s.entries[id]; ok {
			rec.entry.Meta.DeletedAt = &now
		}
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, rec := range s.entries {
		switch {
		case rec.entry.Meta.DeletedAt != nil && now.Sub(*rec.entry.Meta.DeletedAt) > s.gc.SoftDeleteGrace:
			s.hardDeleteLocked(id, rec)
		case !rec.entry.Complete() && now.Sub(rec.entry.Meta.CreatedAt) > s.gc.AbandonedIncomplete:
			s.hardDeleteLocked(id, rec)
		case rec.entry.Complete() && !rec.respComplete && now.Sub(rec.entry.Meta.CreatedAt) > s.gc.AbandonedIncomplete:
			s.hardDeleteLocked(id, rec)
		}
	}
	return nil
}

func (s *Store) hardDeleteLocked(id string, rec *record) {
	if rec.entry.CacheKey != "" {
		delete(s.byKey[rec.entry.CacheKey], id)
	}
	delete(s.entries, id)
}

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
