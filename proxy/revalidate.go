package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// revalidate handles the NeedRevalidation state (spec §4.8 step 5): it sends
// the conditional request, then feeds the outcome back into the state
// machine. A 304 freshens the stored entry; a superseding 2xx/3xx
// invalidates it and falls through to a miss using the response already in
// hand (the conditional GET was answered in full, so there is no reason to
// fetch it a second time); a 5xx may fall back to the stale entry under
// stale-if-error; anything else is a plain miss.
func (c *core) revalidate(ctx context.Context, req *rfccache.Request, s rfccache.NeedRevalidation) (*rfccache.Response, string, error) {
	resp, err := c.send(ctx, s.ConditionalRequest)
	if err != nil {
		if stale := c.staleOnTransportError(ctx, req, s, err); stale != nil {
			return stale, "stale", nil
		}
		return nil, "", err
	}

	next := s.Next(resp)
	switch n := next.(type) {
	case rfccache.NeedToBeUpdated:
		return c.freshen(ctx, req, n)
	case rfccache.FromCache:
		// The 5xx + stale-if-error branch of NeedRevalidation.Next.
		return c.serveFromCache(ctx, req, n)
	case rfccache.InvalidatePairs:
		c.applyInvalidation(ctx, n.IDs)
		missState, ok := n.Next.(rfccache.CacheMiss)
		if !ok {
			return nil, "", fmt.Errorf("proxy: unexpected state chained from InvalidatePairs: %T", n.Next)
		}
		return c.missWithResponse(ctx, req, missState, resp)
	case rfccache.CacheMiss:
		return c.miss(ctx, req, rfccache.CacheKey(req), n)
	default:
		return nil, "", fmt.Errorf("proxy: unexpected revalidation outcome %T", next)
	}
}

// staleOnTransportError serves the revalidation's stalest usable entry when
// the origin round trip itself failed and stale-if-error covers it; nil
// means the caller should propagate the transport error instead.
func (c *core) staleOnTransportError(ctx context.Context, req *rfccache.Request, s rfccache.NeedRevalidation, sendErr error) *rfccache.Response {
	if s.StalestUsable == nil {
		return nil
	}
	age, err := rfccache.CurrentAge(syntheticResponseFor(s.StalestUsable), s.StalestUsable.CreatedAt, s.StalestUsable.CreatedAt, time.Now())
	if err != nil || !rfccache.ShouldServeStaleOnError(s.OriginalRequest, syntheticResponseFor(s.StalestUsable), sendErr, nil, age) {
		return nil
	}
	resp, buildErr := c.buildFromEntry(ctx, s.StalestUsable)
	if buildErr != nil {
		return nil
	}
	if !c.disableWarnings() {
		rfccache.AddRevalidationFailedWarning(resp)
	}
	resp.Metadata = rfccache.ResponseMetadata{FromCache: true, CreatedAt: float64(s.StalestUsable.CreatedAt.Unix())}
	c.metrics.RecordStaleServed("network")
	return resp
}

func syntheticResponseFor(e *rfccache.StoredEntry) *rfccache.Response {
	return rfccache.NewResponse(e.ResponseStatus, headerFromMap(e.ResponseHeader), nil)
}

// freshen merges a 304's end-to-end headers into the matched stored entry
// and returns the updated entry as a FromCache response.
func (c *core) freshen(ctx context.Context, req *rfccache.Request, n rfccache.NeedToBeUpdated) (*rfccache.Response, string, error) {
	matched := n.Matched

	updated, err := c.storage.UpdateEntry(ctx, matched.ID, func(e *storage.Entry) (*storage.Entry, error) {
		stored := rfccache.NewResponse(e.ResponseStatus, e.ResponseHeader, nil)
		merged := rfccache.MergeNotModified(stored, n.From, matched.CreatedAt, matched.CreatedAt, time.Now())
		e.ResponseHeader = merged.Header
		e.ResponseStatus = merged.StatusCode
		return e, nil
	})
	if err != nil {
		return nil, "", err
	}
	if updated == nil {
		// Entry disappeared (GC/concurrent removal) between read and
		// update; treat as if revalidation discovered no usable entry.
		return c.miss(ctx, req, rfccache.CacheKey(req), rfccache.CacheMiss{Request: req})
	}

	next := rfccache.FromCache{Entry: updated.ToStoredEntry(), Revalidated: true}
	return c.serveFromCache(ctx, req, next)
}
