// Package blobstore is a storage.Backend backed by gocloud.dev/blob,
// adapted from the teacher's blobcache package (a flat get/set/delete blob
// cache over S3/GCS/Azure/memory/filesystem) into the full entry/stream
// model. blob.Bucket supports prefix-based listing, so cache-key lookups
// and stream reads are implemented as List calls over "idx/<key>/" and
// "stream/<id>/<kind>/" prefixes rather than a side index.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func entryBlobKey(id string) string     { return "entry/" + id }
func idxBlobKey(cacheKey, id string) string { return "idx/" + cacheKey + "/" + id }
func idxPrefix(cacheKey string) string  { return "idx/" + cacheKey + "/" }
func streamBlobKey(id string, kind storage.StreamKind, n int) string {
	return fmt.Sprintf("stream/%s/%d/%06d", id, int(kind), n)
}
func streamPrefix(id string, kind storage.StreamKind) string {
	return fmt.Sprintf("stream/%s/%d/", id, int(kind))
}

type record struct {
	Data      []byte     `json:"data"`
	CacheKey  string     `json:"cache_key"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Config configures a Store.
type Config struct {
	BucketURL string
	Timeout   time.Duration
	GC        storage.GCPolicy
}

// DefaultConfig returns the teacher's default operation timeout.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, GC: storage.DefaultGCPolicy()}
}

// Store is a storage.Backend backed by a *blob.Bucket.
type Store struct {
	bucket     *blob.Bucket
	cfg        Config
	ownsBucket bool
}

// New opens cfg.BucketURL as a Go CDK bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BucketURL == "" {
		return nil, fmt.Errorf("blobstore: BucketURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open bucket: %w", err)
	}
	return &Store{bucket: bucket, cfg: cfg, ownsBucket: true}, nil
}

// NewWithBucket wraps an already-opened bucket; Close will not close it.
func NewWithBucket(bucket *blob.Bucket, cfg Config) *Store {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Store{bucket: bucket, cfg: cfg, ownsBucket: false}
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
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
		cctx, cancel := s.ctx(ctx)
		defer cancel()
		if err := s.bucket.WriteAll(cctx, idxBlobKey(cacheKey, e.ID), nil, nil); err != nil {
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
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.bucket.WriteAll(cctx, entryBlobKey(e.ID), blob, nil)
}

func (s *Store) get(ctx context.Context, id string) (*storage.Entry, *record, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	raw, err := s.bucket.ReadAll(cctx, entryBlobKey(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
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
	cctx, cancel := w.s.ctx(ctx)
	defer cancel()
	if err := w.s.bucket.WriteAll(cctx, streamBlobKey(w.id, w.kind, w.n), chunk, nil); err != nil {
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
	iter *blob.ListIterator
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	obj, err := r.iter.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, true, nil
		}
		return nil, true, err
	}
	if obj == nil {
		return nil, true, nil
	}
	data, err := r.bucketRead(ctx, obj.Key)
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

func (r *bodyReader) bucketRead(ctx context.Context, key string) ([]byte, error) {
	cctx, cancel := r.s.ctx(ctx)
	defer cancel()
	return r.s.bucket.ReadAll(cctx, key)
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: streamPrefix(entryID, kind)})
	return &bodyReader{s: s, iter: iter}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	iter := s.bucket.List(&blob.ListOptions{Prefix: idxPrefix(cacheKey)})

	now := time.Now()
	var out []*storage.Entry
	for {
		obj, err := iter.Next(cctx)
		if err != nil {
			break
		}
		id := strings.TrimPrefix(obj.Key, idxPrefix(cacheKey))
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
		cctx, cancel := s.ctx(ctx)
		if current.CacheKey != "" {
			_ = s.bucket.Delete(cctx, idxBlobKey(current.CacheKey, id))
		}
		if updated.CacheKey != "" {
			_ = s.bucket.WriteAll(cctx, idxBlobKey(updated.CacheKey, id), nil, nil)
		}
		cancel()
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

// Cleanup lists every entry blob and erases those past the soft-delete
// grace period or abandoned while incomplete, along with their index and
// stream blobs.
func (s *Store) Cleanup(ctx context.Context) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	iter := s.bucket.List(&blob.ListOptions{Prefix: "entry/"})

	now := time.Now()
	for {
		obj, err := iter.Next(cctx)
		if err != nil {
			break
		}
		id := strings.TrimPrefix(obj.Key, "entry/")
		e, rec, err := s.get(ctx, id)
		if err != nil || e == nil {
			continue
		}
		expired := (rec.DeletedAt != nil && now.Sub(*rec.DeletedAt) > s.cfg.GC.SoftDeleteGrace) ||
			(!e.Complete() && now.Sub(e.Meta.CreatedAt) > s.cfg.GC.AbandonedIncomplete)
		if !expired {
			continue
		}
		_ = s.bucket.Delete(cctx, entryBlobKey(id))
		if e.CacheKey != "" {
			_ = s.bucket.Delete(cctx, idxBlobKey(e.CacheKey, id))
		}
		for _, kind := range []storage.StreamKind{storage.KindRequest, storage.KindResponse} {
			chunks := s.bucket.List(&blob.ListOptions{Prefix: streamPrefix(id, kind)})
			for {
				chunk, err := chunks.Next(cctx)
				if err != nil {
					break
				}
				_ = s.bucket.Delete(cctx, chunk.Key)
			}
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.ownsBucket {
		return s.bucket.Close()
	}
	return nil
}

var _ storage.Backend = (*Store)(nil)
