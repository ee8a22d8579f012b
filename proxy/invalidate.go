package proxy

import (
	"context"

	"github.com/sandrolain/rfccache"
)

// applyInvalidation soft-deletes the given entry IDs, used both for a
// revalidation that discovers a superseding response (InvalidatePairs) and
// for unsafe-method invalidation.
func (c *core) applyInvalidation(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := c.storage.RemoveEntry(ctx, id); err != nil {
			rfccache.GetLogger().Warn("failed to invalidate entry", "entry_id", id, "error", err)
		}
	}
}

// invalidateOnUnsafeMethod removes every cache key a non-error response to
// an unsafe method (POST/PUT/DELETE/PATCH) must invalidate, per RFC 9111
// §4.4: the request URI's own key, plus any same-origin Location or
// Content-Location target.
func (c *core) invalidateOnUnsafeMethod(ctx context.Context, req *rfccache.Request, resp *rfccache.Response) {
	if !rfccache.IsUnsafeMethod(req.Method) {
		return
	}
	for _, key := range rfccache.InvalidationTargets(req, resp) {
		if err := c.storage.RemoveByCacheKey(ctx, key); err != nil {
			rfccache.GetLogger().Warn("failed to invalidate cache key", "cache_key", key, "error", err)
		}
	}
}
