package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// miss handles the CacheMiss state (spec §4.8 step 6): an only-if-cached
// miss gets a synthetic 504 without touching the origin; otherwise the
// origin is fetched and the result is stored or discarded per the state
// machine's storability decision.
func (c *core) miss(ctx context.Context, req *rfccache.Request, cacheKey string, s rfccache.CacheMiss) (*rfccache.Response, string, error) {
	if s.OnlyIfCachedMiss {
		return onlyIfCachedResponse(), "miss", nil
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return c.storeOrDiscard(ctx, cacheKey, req, s, resp)
}

// missWithResponse is the CacheMiss handling for a NeedRevalidation that was
// invalidated by a superseding response: resp was already fetched (as the
// answer to the conditional request), so no second origin round trip is
// made.
func (c *core) missWithResponse(ctx context.Context, req *rfccache.Request, s rfccache.CacheMiss, resp *rfccache.Response) (*rfccache.Response, string, error) {
	cacheKey := rfccache.CacheKey(req)
	outcomeResp, _, err := c.storeOrDiscard(ctx, cacheKey, req, s, resp)
	if err == nil {
		outcomeResp.Metadata.Revalidated = true
	}
	return outcomeResp, "revalidated", err
}

func (c *core) storeOrDiscard(ctx context.Context, cacheKey string, req *rfccache.Request, s rfccache.CacheMiss, resp *rfccache.Response) (*rfccache.Response, string, error) {
	entry, err := c.createIncompleteEntry(ctx, req)
	if err != nil {
		rfccache.GetLogger().Warn("failed to create incomplete entry, serving without caching", "error", err)
		resp.Metadata = rfccache.ResponseMetadata{}
		return resp, "miss", nil
	}

	next := s.Next(resp, c.policy)
	switch next.(type) {
	case rfccache.StoreAndUse:
		c.store(ctx, entry.ID, cacheKey, resp)
		resp.Metadata = rfccache.ResponseMetadata{Stored: true}
	case rfccache.CouldNotBeStored:
		if err := c.storage.RemoveEntry(ctx, entry.ID); err != nil {
			rfccache.GetLogger().Warn("failed to remove unstorable incomplete entry", "entry_id", entry.ID, "error", err)
		}
		resp.Metadata = rfccache.ResponseMetadata{}
	}

	return resp, "miss", nil
}

func (c *core) createIncompleteEntry(ctx context.Context, req *rfccache.Request) (*storage.Entry, error) {
	start := time.Now()
	entry, err := c.storage.CreateEntry(ctx, "", req, nil)
	c.metrics.RecordCacheOperation("create_entry", c.backendName, resultOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if len(req.Body) > 0 {
		if err := writeBody(ctx, c.storage, entry.ID, storage.KindRequest, req.Body); err != nil {
			rfccache.GetLogger().Warn("failed to persist request body", "entry_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}

func (c *core) store(ctx context.Context, entryID, cacheKey string, resp *rfccache.Response) {
	start := time.Now()
	_, err := c.storage.UpdateEntry(ctx, entryID, func(e *storage.Entry) (*storage.Entry, error) {
		e.CacheKey = cacheKey
		e.ResponseStatus = resp.StatusCode
		e.ResponseHeader = resp.Header
		e.ResponseMetadata = resp.Metadata
		return e, nil
	})
	c.metrics.RecordCacheOperation("update_entry", c.backendName, resultOf(err), time.Since(start))
	if err != nil {
		rfccache.GetLogger().Warn("failed to complete stored entry", "entry_id", entryID, "error", err)
		return
	}
	if err := writeBody(ctx, c.storage, entryID, storage.KindResponse, resp.Body); err != nil {
		rfccache.GetLogger().Warn("failed to persist response body", "entry_id", entryID, "error", err)
	}
}

func onlyIfCachedResponse() *rfccache.Response {
	resp := rfccache.NewResponse(http.StatusGatewayTimeout, http.Header{}, nil)
	resp.Metadata = rfccache.ResponseMetadata{}
	return resp
}
