package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

func headerFromMap(h rfccache.HeaderMap) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// buildFromEntry reconstructs a *rfccache.Response from a stored entry's
// header/status snapshot plus its persisted response body stream.
func (c *core) buildFromEntry(ctx context.Context, e *rfccache.StoredEntry) (*rfccache.Response, error) {
	body, err := readBody(ctx, c.storage, e.ID, storage.KindResponse)
	if err != nil {
		return nil, err
	}
	return rfccache.NewResponse(e.ResponseStatus, headerFromMap(e.ResponseHeader), body), nil
}

// serveFromCache handles the FromCache terminal state: it reconstructs the
// response, stamps Age, and classifies freshness a second time (the state
// machine collapses "fresh" and "stale-while-revalidate" into the same
// state) to decide whether to kick off a background revalidation and which
// Warning, if any, to attach.
func (c *core) serveFromCache(ctx context.Context, req *rfccache.Request, s rfccache.FromCache) (*rfccache.Response, string, error) {
	resp, err := c.buildFromEntry(ctx, s.Entry)
	if err != nil {
		return nil, "", err
	}

	age, ageErr := rfccache.CurrentAge(resp, s.Entry.CreatedAt, s.Entry.CreatedAt, time.Now())
	if ageErr == nil {
		resp.Header.Set("Age", rfccache.FormatAge(age))
	}

	resp.Metadata = rfccache.ResponseMetadata{
		FromCache:   true,
		Revalidated: s.Revalidated,
		Stored:      false,
		CreatedAt:   float64(s.Entry.CreatedAt.Unix()),
	}

	outcome := "fresh"
	switch {
	case s.ServedOnError:
		outcome = "stale"
		if !c.disableWarnings() {
			rfccache.AddRevalidationFailedWarning(resp)
		}
		c.metrics.RecordStaleServed("server_error")
	case s.Revalidated:
		outcome = "revalidated"
	default:
		lifetime := rfccache.FreshnessLifetime(resp, s.Entry.CreatedAt, c.isSharedCache(), c.allowHeuristics())
		// An empty request with no directives is enough here, so only the
		// stored response's own Cache-Control directives count: the
		// distinction that matters is fresh vs stale-while-revalidate, which
		// doesn't depend on the incoming request's directives (those were
		// already applied by IdleClient.Next to reach FromCache in the first
		// place).
		switch rfccache.Classify(&rfccache.Request{Header: http.Header{}}, resp, age, lifetime) {
		case rfccache.StaleWhileRevalidate:
			outcome = "stale"
			if !c.disableWarnings() {
				rfccache.AddStaleWarning(resp)
			}
			c.backgroundRevalidate(req)
		}
	}

	return resp, outcome, nil
}

// backgroundRevalidate re-runs the request with Cache-Control: no-cache on
// a detached context and goroutine, mirroring the teacher's asyncRevalidate:
// the result is discarded, its only effect is to refresh the stored entry.
func (c *core) backgroundRevalidate(req *rfccache.Request) {
	clone := req.Clone()
	clone.Header.Set("Cache-Control", "no-cache")

	go func() {
		if _, err := c.handle(context.Background(), clone); err != nil {
			rfccache.GetLogger().Warn("background revalidation failed", "url", req.URL.String(), "error", err)
		}
	}()
}

func (c *core) isSharedCache() bool {
	return c.options != nil && c.options.IsSharedCache
}

func (c *core) allowHeuristics() bool {
	return c.options != nil && c.options.AllowHeuristics
}
