// Package redisstore is a Redis-backed storage.Backend, adapted from the
// teacher's redis package but switched to the go-redis/v9 client (the
// example pack carries go-redis rather than redigo) and expanded from a
// single key/value blob cache into the full entry/stream/cache-key-index
// model storage.Backend requires.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

const keyPrefix = "rfccache:"

func entryKey(id string) string       { return keyPrefix + "entry:" + id }
func cacheKeySet(key string) string   { return keyPrefix + "bykey:" + key }
func streamKey(id string, kind storage.StreamKind) string {
	return keyPrefix + "stream:" + id + ":" + fmt.Sprint(int(kind))
}

// Config configures a Store.
type Config struct {
	DefaultTTL time.Duration
	GC         storage.GCPolicy
}

// Store is a storage.Backend backed by a Redis client. Entries are held as
// hashes, cache-key membership as sets, and stream chunks as lists, with an
// explicit end-of-stream sentinel appended on Finish (redis lists have no
// native "closed" marker).
type Store struct {
	client *redis.Client
	cfg    Config
}

// New wraps client with default GC settings.
func New(client *redis.Client, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{GC: storage.DefaultGCPolicy()}
	}
	return &Store{client: client, cfg: *cfg}
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

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entryKey(e.ID), map[string]any{
		"data":       data,
		"created_at": e.Meta.CreatedAt.Unix(),
		"cache_key":  cacheKey,
	})
	if cacheKey != "" {
		pipe.SAdd(ctx, cacheKeySet(cacheKey), e.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: create entry: %w", err)
	}
	return e, nil
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	return w.s.client.RPush(ctx, streamKey(w.id, w.kind), chunk).Err()
}

func (w *bodyWriter) Finish(ctx context.Context) error {
	return w.s.client.RPush(ctx, streamKey(w.id, w.kind), []byte(nil)).Err()
}

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
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
	if len(c) == 0 && r.pos == len(r.chunks) {
		return nil, true, nil
	}
	return c, false, nil
}

func (r *bodyReader) Close() error { return nil }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	raw, err := s.client.LRange(ctx, streamKey(entryID, kind), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	chunks := make([][]byte, len(raw))
	for i, v := range raw {
		chunks[i] = []byte(v)
	}
	return &bodyReader{chunks: chunks}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	ids, err := s.client.SMembers(ctx, cacheKeySet(cacheKey)).Result()
	if err != nil {
		return nil, err
	}
	var out []*storage.Entry
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, entryKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if fields["deleted_at"] != "" {
			continue
		}
		e, err := storage.DecodeEntryData([]byte(fields["data"]))
		if err != nil {
			_ = s.RemoveEntry(ctx, id)
			continue
		}
		e.ID = id
		e.CacheKey = cacheKey
		e.Meta.CreatedAt = parseUnix(fields["created_at"])
		out = append(out, e)

		if refreshTTL {
			s.client.HSet(ctx, entryKey(id), "created_at", time.Now().Unix())
		}
	}
	return out, nil
}

func parseUnix(s string) time.Time {
	var sec int64
	fmt.Sscanf(s, "%d", &sec)
	return time.Unix(sec, 0)
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	fields, err := s.client.HGetAll(ctx, entryKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	current, err := storage.DecodeEntryData([]byte(fields["data"]))
	if err != nil {
		return nil, err
	}
	current.ID = id
	current.CacheKey = fields["cache_key"]
	current.Meta.CreatedAt = parseUnix(fields["created_at"])

	updated, err := fn(current)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, nil
	}

	newData, err := storage.EncodeEntryData(updated)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	if current.CacheKey != updated.CacheKey {
		if current.CacheKey != "" {
			pipe.SRem(ctx, cacheKeySet(current.CacheKey), id)
		}
		if updated.CacheKey != "" {
			pipe.SAdd(ctx, cacheKeySet(updated.CacheKey), id)
		}
	}
	pipe.HSet(ctx, entryKey(id), map[string]any{"data": newData, "cache_key": updated.CacheKey})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	return s.client.HSet(ctx, entryKey(id), "deleted_at", time.Now().Unix()).Err()
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	ids, err := s.client.SMembers(ctx, cacheKeySet(cacheKey)).Result()
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

// Cleanup is a no-op for redisstore: no key is given a Redis expiry, and
// soft-deleted or abandoned incomplete entries are not removed, since
// Redis has no secondary index cheap enough to scan for that sweep
// without a SCAN over all entry hashes.
func (s *Store) Cleanup(ctx context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.Backend = (*Store)(nil)
