// Package diskvstore is a storage.Backend backed by peterbourgon/diskv, the
// disk-backed key/value store the teacher's diskcache package wraps.
// Unlike freecache or memcached, diskv exposes a Keys() enumeration, so the
// cache-key index is computed by scanning and filtering key names rather
// than maintained as a side structure.
package diskvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/diskv"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func entryKeyName(id string) string { return "entry_" + id }
func streamKeyName(id string, kind storage.StreamKind, n int) string {
	return fmt.Sprintf("stream_%s_%d_%06d", id, int(kind), n)
}
func streamKeyPrefix(id string, kind storage.StreamKind) string {
	return fmt.Sprintf("stream_%s_%d_", id, int(kind))
}

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Store is a storage.Backend backed by a *diskv.Diskv.
type Store struct {
	d  *diskv.Diskv
	gc storage.GCPolicy
}

// New creates a Store rooted at basePath with a 100MB in-memory read cache,
// matching the teacher's diskcache default.
func New(basePath string) *Store {
	return NewWithDiskv(diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 100 * 1024 * 1024,
	}))
}

// NewWithDiskv wraps an already-configured *diskv.Diskv.
func NewWithDiskv(d *diskv.Diskv) *Store {
	return &Store{d: d, gc: storage.DefaultGCPolicy()}
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
	if err := s.put(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) put(e *storage.Entry) error {
	data, err := storage.EncodeEntryData(e)
	if err != nil {
		return err
	}
	rec := record{Data: data, CacheKey: e.CacheKey, CreatedAt: e.Meta.CreatedAt, DeletedAt: e.Meta.DeletedAt}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.d.WriteStream(entryKeyName(e.ID), bytes.NewReader(blob), true)
}

func (s *Store) get(id string) (*storage.Entry, *record, error) {
	raw, err := s.d.Read(entryKeyName(id))
	if err != nil {
		return nil, nil, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
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
	if err := w.s.d.WriteStream(streamKeyName(w.id, w.kind, w.n), bytes.NewReader(chunk), true); err != nil {
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
	s     *Store
	id    string
	kind  storage.StreamKind
	pos   int
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if !r.s.d.Has(streamKeyName(r.id, r.kind, r.pos)) {
		return nil, true, nil
	}
	v, err := r.s.d.Read(streamKeyName(r.id, r.kind, r.pos))
	if err != nil {
		return nil, true, err
	}
	r.pos++
	return v, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	return &bodyReader{s: s, id: entryID, kind: kind}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	now := time.Now()
	var out []*storage.Entry
	cancel := make(chan struct{})
	defer close(cancel)
	for key := range s.d.Keys(cancel) {
		if !strings.HasPrefix(key, "entry_") {
			continue
		}
		id := strings.TrimPrefix(key, "entry_")
		e, rec, err := s.get(id)
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
			_ = s.put(e)
		}
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	current, _, err := s.get(id)
	if err != nil || current == nil {
		return nil, err
	}
	updated, err := fn(current)
	if err != nil || updated == nil {
		return nil, err
	}
	if err := s.put(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	e, _, err := s.get(id)
	if err != nil || e == nil {
		return err
	}
	now := time.Now()
	e.Meta.DeletedAt = &now
	return s.put(e)
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

// Cleanup scans all entry keys and erases those past the soft-delete grace
// period or abandoned while incomplete, along with their stream chunks.
func (s *Store) Cleanup(ctx context.Context) error {
	now := time.Now()
	cancel := make(chan struct{})
	defer close(cancel)

	var toErase []string
	for key := range s.d.Keys(cancel) {
		if !strings.HasPrefix(key, "entry_") {
			continue
		}
		id := strings.TrimPrefix(key, "entry_")
		e, rec, err := s.get(id)
		if err != nil || e == nil {
			continue
		}
		switch {
		case rec.DeletedAt != nil && now.Sub(*rec.DeletedAt) > s.gc.SoftDeleteGrace:
			toErase = append(toErase, id)
		case !e.Complete() && now.Sub(e.Meta.CreatedAt) > s.gc.AbandonedIncomplete:
			toErase = append(toErase, id)
		}
	}
	for _, id := range toErase {
		_ = s.d.Erase(entryKeyName(id))
		for _, kind := range []storage.StreamKind{storage.KindRequest, storage.KindResponse} {
			for n := 0; s.d.Has(streamKeyName(id, kind, n)); n++ {
				_ = s.d.Erase(streamKeyName(id, kind, n))
			}
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ storage.Backend = (*Store)(nil)
