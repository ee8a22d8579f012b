// Package pgstore is a PostgreSQL-backed storage.Backend using the
// two-table (entries, streams) schema from the design, adapted from the
// teacher's pgx connection-pool pattern.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// ErrNilPool is returned when a nil pool is provided to NewWithPool.
var ErrNilPool = errors.New("pgstore: pool cannot be nil")

const (
	// DefaultEntriesTable is the default entries table name.
	DefaultEntriesTable = "rfccache_entries"
	// DefaultStreamsTable is the default streams table name.
	DefaultStreamsTable = "rfccache_streams"
)

// Config configures a Store.
type Config struct {
	EntriesTable string
	StreamsTable string
	Timeout      time.Duration
	GC           storage.GCPolicy
}

// DefaultConfig returns a Config with the default table names and a 5s
// per-statement timeout.
func DefaultConfig() *Config {
	return &Config{
		EntriesTable: DefaultEntriesTable,
		StreamsTable: DefaultStreamsTable,
		Timeout:      5 * time.Second,
		GC:           storage.DefaultGCPolicy(),
	}
}

// Store is a storage.Backend backed by a pgxpool.Pool.
type Store struct {
	pool    *pgxpool.Pool
	cfg     *Config
}

// New opens a pool for connString and creates the schema if absent.
func New(ctx context.Context, connString string, cfg *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Store{pool: pool, cfg: cfg}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool, creating the schema if absent.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, cfg *Config) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Store{pool: pool, cfg: cfg}
	if err := s.createSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			cache_key TEXT,
			data BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS %s_cache_key_idx ON %s (cache_key);
		CREATE INDEX IF NOT EXISTS %s_deleted_at_idx ON %s (deleted_at);
	`, s.cfg.EntriesTable, s.cfg.EntriesTable, s.cfg.EntriesTable, s.cfg.EntriesTable, s.cfg.EntriesTable))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			entry_id UUID NOT NULL,
			kind SMALLINT NOT NULL,
			chunk_number INT NOT NULL,
			chunk_data BYTEA NOT NULL,
			PRIMARY KEY (entry_id, kind, chunk_number)
		);
	`, s.cfg.StreamsTable))
	return err
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

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

	var cacheKeyArg any
	if cacheKey != "" {
		cacheKeyArg = cacheKey
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, cache_key, data, created_at) VALUES ($1, $2, $3, $4)`,
		s.cfg.EntriesTable,
	), e.ID, cacheKeyArg, data, e.Meta.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create entry: %w", err)
	}
	return e, nil
}

type bodyWriter struct {
	s    *Store
	id   string
	kind storage.StreamKind
	next int
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	ctx, cancel := w.s.ctx(ctx)
	defer cancel()
	_, err := w.s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (entry_id, kind, chunk_number, chunk_data) VALUES ($1, $2, $3, $4)`,
		w.s.cfg.StreamsTable,
	), w.id, int(w.kind), w.next, chunk)
	w.next++
	return err
}

func (w *bodyWriter) Finish(ctx context.Context) error {
	ctx, cancel := w.s.ctx(ctx)
	defer cancel()
	_, err := w.s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (entry_id, kind, chunk_number, chunk_data) VALUES ($1, $2, $3, '')`,
		w.s.cfg.StreamsTable,
	), w.id, int(w.kind), storage.EndOfStream)
	return err
}

func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	return &bodyWriter{s: s, id: entryID, kind: kind}, nil
}

type bodyReader struct {
	rows pgx.Rows
}

func (r *bodyReader) Next(ctx context.Context) ([]byte, bool, error) {
	if !r.rows.Next() {
		return nil, true, r.rows.Err()
	}
	var chunkNumber int
	var data []byte
	if err := r.rows.Scan(&chunkNumber, &data); err != nil {
		return nil, false, err
	}
	if chunkNumber == storage.EndOfStream {
		return nil, true, nil
	}
	return data, false, nil
}

func (r *bodyReader) Close() error {
	r.rows.Close()
	return nil
}

func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT chunk_number, chunk_data FROM %s WHERE entry_id = $1 AND kind = $2 ORDER BY chunk_number`,
		s.cfg.StreamsTable,
	), entryID, int(kind))
	if err != nil {
		return nil, err
	}
	return &bodyReader{rows: rows}, nil
}

func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, data, created_at FROM %s WHERE cache_key = $1 AND deleted_at IS NULL`,
		s.cfg.EntriesTable,
	), cacheKey)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get entries: %w", err)
	}
	defer rows.Close()

	var out []*storage.Entry
	now := time.Now()
	for rows.Next() {
		var id string
		var data []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &data, &createdAt); err != nil {
			return nil, err
		}
		e, err := storage.DecodeEntryData(data)
		if err != nil {
			// RFC "SerializationError" handling: soft-delete and skip.
			_ = s.RemoveEntry(ctx, id)
			continue
		}
		e.ID = id
		e.CacheKey = cacheKey
		e.Meta.CreatedAt = createdAt
		out = append(out, e)

		if refreshTTL {
			_, _ = s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET created_at = $1 WHERE id = $2`, s.cfg.EntriesTable), now, id)
		}
	}
	return out, rows.Err()
}

func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var data []byte
	var cacheKey *string
	var createdAt time.Time
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT cache_key, data, created_at FROM %s WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		s.cfg.EntriesTable,
	), id).Scan(&cacheKey, &data, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	current, err := storage.DecodeEntryData(data)
	if err != nil {
		return nil, err
	}
	current.ID = id
	current.Meta.CreatedAt = createdAt
	if cacheKey != nil {
		current.CacheKey = *cacheKey
	}

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
	var newCacheKeyArg any
	if updated.CacheKey != "" {
		newCacheKeyArg = updated.CacheKey
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET cache_key = $1, data = $2 WHERE id = $3`, s.cfg.EntriesTable,
	), newCacheKeyArg, newData, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, s.cfg.EntriesTable,
	), time.Now(), id)
	return err
}

func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET deleted_at = $1 WHERE cache_key = $2 AND deleted_at IS NULL`, s.cfg.EntriesTable,
	), time.Now(), cacheKey)
	return err
}

func (s *Store) Cleanup(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	now := time.Now()

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < $1`, s.cfg.EntriesTable,
	), now.Add(-s.cfg.GC.SoftDeleteGrace)); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE cache_key IS NULL AND created_at < $1`, s.cfg.EntriesTable,
	), now.Add(-s.cfg.GC.AbandonedIncomplete))
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ storage.Backend = (*Store)(nil)
