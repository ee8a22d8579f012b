// Package leveldbstore is a storage.Backend backed by goleveldb, adapted
// from the teacher's leveldbcache package (a flat get/set/delete blob
// cache) into the full entry/stream model. Since leveldb is an ordered
// key-value store with no secondary index, cache-key lookups are modeled
// as a range scan over an "idx:<cachekey>:" key prefix.
package leveldbstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func entryKey(id string) []byte { return []byte("entry:" + id) }
func idxKey(cacheKey, id string) []byte {
	return []byte("idx:" + cacheKey + ":" + id)
}
func idxPrefix(cacheKey string) []byte { return []byte("idx:" + cacheKey + ":") }
func streamKey(id string, kind storage.StreamKind, n int) []byte {
	return []byte(fmt.Sprintf("stream:%s:%d:%06d", id, int(kind), n))
}
func streamPrefix(id string, kind storage.StreamKind) []byte {
	return []byte(fmt.Sprintf("stream:%s:%d:", id, int(kind)))
}

// Store is a storage.Backend backed by a goleveldb *leveldb.DB.
type Store struct {
	db *leveldb.DB
	gc storage.GCPolicy
}

// New opens (or creates) a leveldb database rooted at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open *leveldb.DB.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db, gc: storage.DefaultGCPolicy()}
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

	batch := new(leveldb.Batch)
	batch.Put(entryKey(e.ID), blob)
	if e.CacheKey != "" {
		batch.Put(idxKey(e.CacheKey, e.ID), nil)
	}
	return s.db.Write(batch, nil)
}

func (s *Store) get(id string) (*storage.Entry, *record, error) {
	raw, err := s.db.Get(entryKey(id), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
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
	if err := w.s.db.Put(streamKey(w.id, w.kind, w.n), chunk, nil); err != nil {
		return err
	}
	w.n++
	return nil
}

// Finish is a no-op: the prefix-scanned iterator in bodyReader already
// terminates at the last written chunk, so no explicit end-of-stream
// sentinel key is needed.
func (w *bodyWriter) Finish(ctx context.Context) error {
	return nil
}

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	iter iterator
}

type iterator interface {
	Next() bool
	Value() []byte
	Release()
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if !r.iter.Next() {
		r.iter.Release()
		return nil, true, nil
	}
	v := append([]byte(nil), r.iter.Value()...)
	return v, false, nil
}

func (r *bodyReader) Close() error {
	r.iter.Release()
	return nil
}

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	rng := util.BytesPrefix(streamPrefix(entryID, kind))
	it := s.db.NewIterator(rng, nil)
	return &bodyReader{iter: it}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	it := s.db.NewIterator(util.BytesPrefix(idxPrefix(cacheKey)), nil)
	defer it.Release()

	now := time.Now()
	var out []*storage.Entry
	for it.Next() {
		key := string(it.Key())
		id := key[len("idx:"+cacheKey+":"):]
		e, rec, err := s.get(id)
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
			_ = s.put(e)
		}
	}
	return out, it.Error()
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

	batch := new(leveldb.Batch)
	if current.CacheKey != updated.CacheKey && current.CacheKey != "" {
		batch.Delete(idxKey(current.CacheKey, id))
	}
	if err := s.db.Write(batch, nil); err != nil {
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
	it := s.db.NewIterator(util.BytesPrefix(idxPrefix(cacheKey)), nil)
	defer it.Release()
	for it.Next() {
		id := string(it.Key())[len("idx:"+cacheKey+":"):]
		if err := s.RemoveEntry(ctx, id); err != nil {
			return err
		}
	}
	return it.Error()
}

// Cleanup performs a full scan of entry records, hard-deleting those past
// the soft-delete grace period or abandoned while incomplete. Acceptable
// for the periodic, rate-limited cadence storage.GCPolicy assumes.
func (s *Store) Cleanup(ctx context.Context) error {
	it := s.db.NewIterator(util.BytesPrefix([]byte("entry:")), nil)
	defer it.Release()

	now := time.Now()
	var toDelete []string
	for it.Next() {
		id := string(it.Key())[len("entry:"):]
		e, rec, err := s.get(id)
		if err != nil || e == nil {
			continue
		}
		switch {
		case rec.DeletedAt != nil && now.Sub(*rec.DeletedAt) > s.gc.SoftDeleteGrace:
			toDelete = append(toDelete, id)
		case !e.Complete() && now.Sub(e.Meta.CreatedAt) > s.gc.AbandonedIncomplete:
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		e, _, _ := s.get(id)
		batch := new(leveldb.Batch)
		batch.Delete(entryKey(id))
		if e != nil && e.CacheKey != "" {
			batch.Delete(idxKey(e.CacheKey, id))
		}
		_ = s.db.Write(batch, nil)
	}
	return it.Error()
}

func (s *Store) Close() error { return s.db.Close() }

var _ storage.Backend = (*Store)(nil)
