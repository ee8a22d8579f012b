// Package proxy drives the sans-I/O state machine against a storage.Backend
// and an origin Sender, implementing the cache-proxy algorithm: derive a
// cache key, load candidate entries, run the state machine, and act on
// whichever terminal state it reaches. Two drivers share this core: Blocking
// (thread-per-request, the calling goroutine blocks on every I/O boundary)
// and Async (a single cooperative worker drains a request queue, so the
// suspension points the state machine never has live in one place).
package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/metrics"
	"github.com/sandrolain/rfccache/resilience"
	"github.com/sandrolain/rfccache/storage"
)

// Sender performs the origin round trip the proxy needs on a cache miss or
// revalidation. Integrations supply one; NewHTTPSender adapts an
// *http.Client.
type Sender interface {
	Send(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error)
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	return f(ctx, req)
}

// Config wires a driver's dependencies.
type Config struct {
	// Storage is the persistence backend. Required.
	Storage storage.Backend

	// Sender performs the origin round trip. Required.
	Sender Sender

	// Policy decides cache-hit/storability behavior. Defaults to
	// rfccache.NewSpecificationPolicy(Options).
	Policy rfccache.Policy

	// Options configures the default SpecificationPolicy when Policy is
	// nil. Ignored if Policy is set explicitly.
	Options *rfccache.CacheOptions

	// Resilience wraps the origin fetch in retry/circuit-breaker policies.
	// Nil disables both.
	Resilience *resilience.Config

	// Metrics receives cache/request instrumentation. Defaults to
	// metrics.DefaultCollector (a no-op).
	Metrics metrics.Collector

	// BackendName labels the Storage implementation in metrics (e.g.
	// "memstore", "pgstore"). Defaults to "storage".
	BackendName string
}

func (c *Config) validate() error {
	if c.Storage == nil {
		return errors.New("proxy: Storage is required")
	}
	if c.Sender == nil {
		return errors.New("proxy: Sender is required")
	}
	return nil
}

// core implements the cache-proxy algorithm; Blocking and Async both embed
// one and differ only in how they schedule calls to handle.
type core struct {
	storage     storage.Backend
	sender      Sender
	policy      rfccache.Policy
	options     *rfccache.CacheOptions
	resilience  *resilience.Config
	metrics     metrics.Collector
	backendName string
}

func newCore(cfg Config) (*core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	policy := cfg.Policy
	if policy == nil {
		policy = rfccache.NewSpecificationPolicy(cfg.Options)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultCollector
	}
	backendName := cfg.BackendName
	if backendName == "" {
		backendName = "storage"
	}
	return &core{
		storage:     cfg.Storage,
		sender:      cfg.Sender,
		policy:      policy,
		options:     cfg.Options,
		resilience:  cfg.Resilience,
		metrics:     m,
		backendName: backendName,
	}, nil
}

func (c *core) refreshOnAccess() bool {
	return c.options != nil && c.options.RefreshOnAccess
}

func (c *core) disableWarnings() bool {
	return c.options != nil && c.options.DisableWarnings
}

// send performs the origin round trip through the configured resilience
// policies (retry, circuit breaker); with none configured it calls the
// Sender directly.
func (c *core) send(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	return resilience.Execute(c.resilience, func() (*rfccache.Response, error) {
		return c.sender.Send(ctx, req)
	})
}

// handle runs the full cache-proxy algorithm for req (spec §4.8) and
// performs unsafe-method invalidation on the way out.
func (c *core) handle(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	start := time.Now()
	resp, outcome, err := c.route(ctx, req)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordRequest(req.Method, outcome, resp.StatusCode, time.Since(start))
	c.metrics.RecordResponseSize(outcome, int64(len(resp.Body)))

	c.invalidateOnUnsafeMethod(ctx, req, resp)
	return resp, nil
}

// route derives the cache key, loads candidates, and dispatches on the
// state the state machine reaches. A storage error at this point degrades
// the whole request to pass-through per the StorageUnavailable error kind.
func (c *core) route(ctx context.Context, req *rfccache.Request) (*rfccache.Response, string, error) {
	cacheKey := rfccache.CacheKey(req)

	candidates, err := c.loadCandidates(ctx, cacheKey)
	if err != nil {
		rfccache.GetLogger().Warn("storage unavailable, degrading to pass-through", "error", err, "cache_key", cacheKey)
		resp, sendErr := c.send(ctx, req)
		if sendErr != nil {
			return nil, "", sendErr
		}
		resp.Metadata = rfccache.ResponseMetadata{}
		return resp, "bypass", nil
	}

	state := c.policy.Idle(req, candidates)
	return c.advance(ctx, req, cacheKey, state)
}

func (c *core) loadCandidates(ctx context.Context, cacheKey string) ([]*rfccache.StoredEntry, error) {
	start := time.Now()
	entries, err := c.storage.GetEntries(ctx, cacheKey, c.refreshOnAccess())
	c.metrics.RecordCacheOperation("get_entries", c.backendName, resultOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	candidates := make([]*rfccache.StoredEntry, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, e.ToStoredEntry())
	}
	return candidates, nil
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *core) advance(ctx context.Context, req *rfccache.Request, cacheKey string, state rfccache.State) (*rfccache.Response, string, error) {
	switch s := state.(type) {
	case rfccache.FromCache:
		return c.serveFromCache(ctx, req, s)
	case rfccache.NeedRevalidation:
		return c.revalidate(ctx, req, s)
	case rfccache.CacheMiss:
		return c.miss(ctx, req, cacheKey, s)
	default:
		return nil, "", fmt.Errorf("proxy: unexpected state %T", state)
	}
}
