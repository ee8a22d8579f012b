package proxy

import (
	"context"

	"github.com/sandrolain/rfccache"
)

// Blocking is the thread-per-request driver: Handle runs the whole
// cache-proxy algorithm on the calling goroutine, blocking it at every I/O
// boundary (storage calls, the origin Sender). Concurrent callers get
// concurrent goroutines; there is no shared scheduling beyond what the
// storage backend and Sender themselves provide.
type Blocking struct {
	core *core
}

// NewBlocking builds a Blocking driver from cfg.
func NewBlocking(cfg Config) (*Blocking, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	return &Blocking{core: c}, nil
}

// Handle runs the cache-proxy algorithm for req and returns its response.
func (b *Blocking) Handle(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	return b.core.handle(ctx, req)
}

// Fetch satisfies prewarm.Fetcher, so a Blocking driver can prewarm its own
// cache.
func (b *Blocking) Fetch(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	return b.Handle(ctx, req)
}
