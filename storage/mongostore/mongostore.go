// Package mongostore is a storage.Backend backed by the official MongoDB Go
// driver, adapted from the teacher's mongodb package (a flat key/value
// collection) into a two-collection model: an entries collection indexed
// by cache key, and a streams collection indexed by (entry_id, kind,
// chunk_number), mirroring the entries/streams tables of the SQL backends.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// Config holds the configuration for a Store.
type Config struct {
	URI               string
	Database          string
	EntriesCollection string
	StreamsCollection string
	Timeout           time.Duration
	GC                storage.GCPolicy
}

// DefaultConfig returns sensible defaults, matching the teacher's naming
// conventions for collection names and timeout.
func DefaultConfig() Config {
	return Config{
		EntriesCollection: "rfccache_entries",
		StreamsCollection: "rfccache_streams",
		Timeout:           5 * time.Second,
		GC:                storage.DefaultGCPolicy(),
	}
}

type entryDoc struct {
	ID               string                     `bson:"_id"`
	CacheKey         string                     `bson:"cache_key"`
	Method           string                     `bson:"method"`
	URL              string                     `bson:"url"`
	StatusCode       int                        `bson:"status_code"`
	RequestHeaders   map[string][]string        `bson:"request_headers"`
	ResponseHeaders  map[string][]string        `bson:"response_headers"`
	RequestMetadata  rfccache.RequestMetadata   `bson:"request_metadata"`
	ResponseMetadata rfccache.ResponseMetadata  `bson:"response_metadata"`
	CreatedAt        time.Time                  `bson:"created_at"`
	DeletedAt        *time.Time                 `bson:"deleted_at,omitempty"`
}

type streamDoc struct {
	EntryID     string `bson:"entry_id"`
	Kind        int    `bson:"kind"`
	ChunkNumber int    `bson:"chunk_number"`
	Data        []byte `bson:"data"`
}

// Store is a storage.Backend backed by MongoDB.
type Store struct {
	client  *mongo.Client
	entries *mongo.Collection
	streams *mongo.Collection
	cfg     Config
}

// New connects to uri and opens the configured database/collections,
// creating the indexes mongostore relies on.
func New(ctx context.Context, uri string, cfg *Config) (*Store, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.EntriesCollection == "" {
		c.EntriesCollection = DefaultConfig().EntriesCollection
	}
	if c.StreamsCollection == "" {
		c.StreamsCollection = DefaultConfig().StreamsCollection
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultConfig().Timeout
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(c.Database)
	s := &Store{
		client:  client,
		entries: db.Collection(c.EntriesCollection),
		streams: db.Collection(c.StreamsCollection),
		cfg:     c,
	}

	idxCtx, idxCancel := context.WithTimeout(ctx, c.Timeout)
	defer idxCancel()
	_, _ = s.entries.Indexes().CreateOne(idxCtx, mongo.IndexModel{Keys: bson.D{{Key: "cache_key", Value: 1}}})
	_, _ = s.streams.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "entry_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "chunk_number", Value: 1}},
	})

	return s, nil
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

	doc := toDoc(e)
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.entries.InsertOne(cctx, doc); err != nil {
		return nil, fmt.Errorf("mongostore: create entry: %w", err)
	}
	return e, nil
}

func toDoc(e *storage.Entry) entryDoc {
	return entryDoc{
		ID:               e.ID,
		CacheKey:         e.CacheKey,
		Method:           e.RequestMethod,
		URL:              e.RequestURL,
		StatusCode:       e.ResponseStatus,
		RequestHeaders:   map[string][]string(e.RequestHeader),
		ResponseHeaders:  map[string][]string(e.ResponseHeader),
		RequestMetadata:  e.RequestMetadata,
		ResponseMetadata: e.ResponseMetadata,
		CreatedAt:        e.Meta.CreatedAt,
		DeletedAt:        e.Meta.DeletedAt,
	}
}

func fromDoc(d entryDoc) *storage.Entry {
	return &storage.Entry{
		ID:               d.ID,
		CacheKey:         d.CacheKey,
		RequestMethod:    d.Method,
		RequestURL:       d.URL,
		RequestHeader:    d.RequestHeaders,
		ResponseStatus:   d.StatusCode,
		ResponseHeader:   d.ResponseHeaders,
		RequestMetadata:  d.RequestMetadata,
		ResponseMetadata: d.ResponseMetadata,
		Meta:             storage.EntryMeta{CreatedAt: d.CreatedAt, DeletedAt: d.DeletedAt},
	}
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
	_, err := w.s.streams.InsertOne(cctx, streamDoc{EntryID: w.id, Kind: int(w.kind), ChunkNumber: w.n, Data: chunk})
	w.n++
	return err
}

func (w *bodyWriter) Finish(ctx context.Context) error { return nil }

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	cur *mongo.Cursor
	ctx context.Context
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if !r.cur.Next(r.ctx) {
		return nil, true, r.cur.Err()
	}
	var d streamDoc
	if err := r.cur.Decode(&d); err != nil {
		return nil, true, err
	}
	return d.Data, false, nil
}

func (r *bodyReader) Close() error { return r.cur.Close(r.ctx) }

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	opts := options.Find().SetSort(bson.D{{Key: "chunk_number", Value: 1}})
	cur, err := s.streams.Find(ctx, bson.M{"entry_id": entryID, "kind": int(kind)}, opts)
	if err != nil {
		return nil, err
	}
	return &bodyReader{cur: cur, ctx: ctx}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	cur, err := s.entries.Find(cctx, bson.M{"cache_key": cacheKey, "deleted_at": bson.M{"$exists": false}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(cctx)

	now := time.Now()
	var out []*storage.Entry
	for cur.Next(cctx) {
		var d entryDoc
		if err := cur.Decode(&d); err != nil {
			continue
		}
		e := fromDoc(d)
		if e.Meta.TTL != nil && now.Sub(e.Meta.CreatedAt) > *e.Meta.TTL {
			continue
		}
		out = append(out, e)
		if refreshTTL {
			_, _ = s.entries.UpdateOne(cctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{"created_at": now}})
		}
	}
	return out, cur.Err()
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	cctx, cancel := s.ctx(ctx)
	defer cancel()

	var d entryDoc
	if err := s.entries.FindOne(cctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	updated, err := fn(fromDoc(d))
	if err != nil || updated == nil {
		return nil, err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.entries.ReplaceOne(cctx, bson.M{"_id": id}, toDoc(updated), opts); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	now := time.Now()
	_, err := s.entries.UpdateOne(cctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"deleted_at": now}})
	return err
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	now := time.Now()
	_, err := s.entries.UpdateMany(cctx, bson.M{"cache_key": cacheKey}, bson.M{"$set": bson.M{"deleted_at": now}})
	return err
}

// Cleanup hard-deletes entries (and their stream chunks) past the
// soft-delete grace period or abandoned while incomplete.
func (s *Store) Cleanup(ctx context.Context) error {
	cctx, cancel := s.ctx(ctx)
	defer cancel()
	now := time.Now()

	cur, err := s.entries.Find(cctx, bson.M{})
	if err != nil {
		return err
	}
	defer cur.Close(cctx)

	var toDelete []string
	for cur.Next(cctx) {
		var d entryDoc
		if err := cur.Decode(&d); err != nil {
			continue
		}
		e := fromDoc(d)
		switch {
		case e.Meta.DeletedAt != nil && now.Sub(*e.Meta.DeletedAt) > s.cfg.GC.SoftDeleteGrace:
			toDelete = append(toDelete, d.ID)
		case !e.Complete() && now.Sub(e.Meta.CreatedAt) > s.cfg.GC.AbandonedIncomplete:
			toDelete = append(toDelete, d.ID)
		}
	}
	for _, id := range toDelete {
		_, _ = s.entries.DeleteOne(cctx, bson.M{"_id": id})
		_, _ = s.streams.DeleteMany(cctx, bson.M{"entry_id": id})
	}
	return cur.Err()
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ storage.Backend = (*Store)(nil)
