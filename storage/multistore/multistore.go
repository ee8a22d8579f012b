// Package multistore cascades a storage.Backend across multiple tiers,
// ordered fastest/smallest first to slowest/largest/most-durable last.
// Reads search tiers in order and promote a hit found in a slower tier up
// into every faster tier; writes go to every tier so hot data naturally
// migrates toward the front while durability comes from the back.
//
// Example:
//
//	multistore.New(memstore.New(), redisStore, pgStore)
//
// keeps an in-process tier in front of Redis in front of Postgres.
package multistore

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// Store cascades reads and writes across its tiers.
type Store struct {
	tiers []storage.Backend

	mu  sync.Mutex
	ids map[string][]string // canonical ID (tiers[0]'s) -> per-tier ID
}

// New builds a Store from tiers, ordered fastest to slowest. At least one
// tier is required.
func New(tiers ...storage.Backend) (*Store, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("multistore: at least one tier is required")
	}
	for _, t := range tiers {
		if t == nil {
			return nil, fmt.Errorf("multistore: tier cannot be nil")
		}
	}
	return &Store{tiers: tiers, ids: make(map[string][]string)}, nil
}

func (s *Store) recordIDs(canonical string, perTier []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[canonical] = perTier
}

func (s *Store) perTierIDs(canonical string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.ids[canonical]
	return ids, ok
}

func (s *Store) forgetIDs(canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, canonical)
}

// CreateEntry creates the entry on every tier and returns the entry as
// created on the first (fastest) tier, whose ID becomes the canonical ID
// callers use for OpenBodyWriter/OpenBodyReader/UpdateEntry/RemoveEntry.
func (s *Store) CreateEntry(ctx context.Context, cacheKey string, req *rfccache.Request, resp *rfccache.Response) (*storage.Entry, error) {
	perTier := make([]string, len(s.tiers))
	var canonical *storage.Entry

	for i, tier := range s.tiers {
		e, err := tier.CreateEntry(ctx, cacheKey, req, resp)
		if err != nil {
			return nil, err
		}
		perTier[i] = e.ID
		if i == 0 {
			canonical = e
		}
	}

	s.recordIDs(canonical.ID, perTier)
	return canonical, nil
}

type bodyWriter struct {
	writers []storage.BodyWriter
}

func (w *bodyWriter) Write(ctx context.Context, chunk []byte) error {
	for _, tw := range w.writers {
		if tw == nil {
			continue
		}
		if err := tw.Write(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *bodyWriter) Finish(ctx context.Context) error {
	for _, tw := range w.writers {
		if tw == nil {
			continue
		}
		if err := tw.Finish(ctx); err != nil {
			return err
		}
	}
	return nil
}

// OpenBodyWriter opens a writer fanning each chunk out to every tier that
// recognizes entryID. Tiers the entry wasn't created on (a backend added
// after the entry existed) are skipped.
func (s *Store) OpenBodyWriter(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyWriter, error) {
	perTier, ok := s.perTierIDs(entryID)
	if !ok {
		return nil, fmt.Errorf("multistore: unknown entry %q", entryID)
	}

	writers := make([]storage.BodyWriter, len(s.tiers))
	for i, tier := range s.tiers {
		if perTier[i] == "" {
			continue
		}
		w, err := tier.OpenBodyWriter(ctx, perTier[i], kind)
		if err != nil {
			return nil, err
		}
		writers[i] = w
	}
	return &bodyWriter{writers: writers}, nil
}

// OpenBodyReader reads from the fastest tier that has the stream.
func (s *Store) OpenBodyReader(ctx context.Context, entryID string, kind storage.StreamKind) (storage.BodyReader, error) {
	perTier, ok := s.perTierIDs(entryID)
	if !ok {
		return nil, fmt.Errorf("multistore: unknown entry %q", entryID)
	}
	for i, tier := range s.tiers {
		if perTier[i] == "" {
			continue
		}
		r, err := tier.OpenBodyReader(ctx, perTier[i], kind)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("multistore: no tier holds entry %q", entryID)
}

// GetEntries searches tiers in order and promotes a hit found in a slower
// tier into every faster tier, mirroring the teacher's read-then-promote
// strategy.
func (s *Store) GetEntries(ctx context.Context, cacheKey string, refreshTTL bool) ([]*storage.Entry, error) {
	for i, tier := range s.tiers {
		entries, err := tier.GetEntries(ctx, cacheKey, refreshTTL)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		if i > 0 {
			s.promote(ctx, cacheKey, entries, i)
		}
		return entries, nil
	}
	return nil, nil
}

// promote re-creates entries found at tier foundAt (and mirrors their
// bodies) in every faster tier. Promotion is best-effort: a failure to
// promote does not fail the read that triggered it.
func (s *Store) promote(ctx context.Context, cacheKey string, entries []*storage.Entry, foundAt int) {
	for _, e := range entries {
		perTier, ok := s.perTierIDs(e.ID)
		if !ok {
			perTier = make([]string, len(s.tiers))
			perTier[foundAt] = e.ID
		}
		for i := 0; i < foundAt; i++ {
			if perTier[i] != "" {
				continue
			}
			u, err := url.Parse(e.RequestURL)
			if err != nil {
				continue
			}
			req := &rfccache.Request{Method: e.RequestMethod, URL: u, Header: e.RequestHeader}
			resp := &rfccache.Response{StatusCode: e.ResponseStatus, Header: e.ResponseHeader, Metadata: e.ResponseMetadata}
			promoted, err := s.tiers[i].CreateEntry(ctx, cacheKey, req, resp)
			if err != nil {
				continue
			}
			perTier[i] = promoted.ID
			s.copyBody(ctx, e.ID, promoted.ID, foundAt, i, storage.KindRequest)
			s.copyBody(ctx, e.ID, promoted.ID, foundAt, i, storage.KindResponse)
		}
		s.recordIDs(e.ID, perTier)
	}
}

func (s *Store) copyBody(ctx context.Context, srcID, dstID string, srcTier, dstTier int, kind storage.StreamKind) {
	r, err := s.tiers[srcTier].OpenBodyReader(ctx, srcID, kind)
	if err != nil {
		return
	}
	defer r.Close()
	w, err := s.tiers[dstTier].OpenBodyWriter(ctx, dstID, kind)
	if err != nil {
		return
	}
	for {
		chunk, end, err := r.Next(ctx)
		if err != nil || end {
			break
		}
		if err := w.Write(ctx, chunk); err != nil {
			return
		}
	}
	_ = w.Finish(ctx)
}

// UpdateEntry applies fn independently on every tier that holds entryID.
func (s *Store) UpdateEntry(ctx context.Context, id string, fn func(*storage.Entry) (*storage.Entry, error)) (*storage.Entry, error) {
	perTier, ok := s.perTierIDs(id)
	if !ok {
		return nil, nil
	}
	var canonical *storage.Entry
	for i, tier := range s.tiers {
		if perTier[i] == "" {
			continue
		}
		updated, err := tier.UpdateEntry(ctx, perTier[i], fn)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			canonical = updated
		}
	}
	return canonical, nil
}

// RemoveEntry soft-deletes entryID on every tier that holds it.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	perTier, ok := s.perTierIDs(id)
	if !ok {
		return nil
	}
	for i, tier := range s.tiers {
		if perTier[i] == "" {
			continue
		}
		if err := tier.RemoveEntry(ctx, perTier[i]); err != nil {
			return err
		}
	}
	s.forgetIDs(id)
	return nil
}

// RemoveByCacheKey soft-deletes cacheKey's entries on every tier.
func (s *Store) RemoveByCacheKey(ctx context.Context, cacheKey string) error {
	for _, tier := range s.tiers {
		if err := tier.RemoveByCacheKey(ctx, cacheKey); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup runs each tier's own Cleanup.
func (s *Store) Cleanup(ctx context.Context) error {
	for _, tier := range s.tiers {
		if err := tier.Cleanup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every tier.
func (s *Store) Close() error {
	var firstErr error
	for _, tier := range s.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ storage.Backend = (*Store)(nil)
