package proxy

import (
	"context"

	"github.com/sandrolain/rfccache"
)

// job is one pending Handle call waiting for the Async worker to reach it.
type job struct {
	ctx    context.Context
	req    *rfccache.Request
	result chan<- jobResult
}

type jobResult struct {
	resp *rfccache.Response
	err  error
}

// Async is the cooperative driver: a single worker goroutine drains a queue
// of pending requests one at a time, so every suspension point (the origin
// Sender, a storage call) is reached from that one goroutine rather than
// from a dedicated thread per caller. Handle itself does not block the
// calling goroutine on the algorithm running — it hands the request to the
// worker and waits only on the result channel, matching the "explicit
// suspension points" scheduling model described for this variant.
type Async struct {
	core  *core
	jobs  chan job
	close chan struct{}
}

// NewAsync builds an Async driver from cfg. queueSize bounds how many
// Handle calls may be pending before Handle itself blocks submitting one;
// 0 means unbuffered (Handle blocks until the worker is free to accept).
func NewAsync(cfg Config, queueSize int) (*Async, error) {
	c, err := newCore(cfg)
	if err != nil {
		return nil, err
	}
	a := &Async{
		core:  c,
		jobs:  make(chan job, queueSize),
		close: make(chan struct{}),
	}
	go a.run()
	return a, nil
}

func (a *Async) run() {
	for {
		select {
		case j := <-a.jobs:
			resp, err := a.core.handle(j.ctx, j.req)
			j.result <- jobResult{resp: resp, err: err}
		case <-a.close:
			return
		}
	}
}

// Handle submits req to the worker and waits for its result. Canceling ctx
// unblocks the wait immediately, but the in-flight algorithm step already
// handed to the worker still runs to completion (per the design's
// cancellation semantics: an abandoned in-flight fetch just leaves an
// incomplete entry for GC).
func (a *Async) Handle(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	result := make(chan jobResult, 1)
	select {
	case a.jobs <- job{ctx: ctx, req: req, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.close:
		return nil, context.Canceled
	}

	select {
	case r := <-result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch satisfies prewarm.Fetcher.
func (a *Async) Fetch(ctx context.Context, req *rfccache.Request) (*rfccache.Response, error) {
	return a.Handle(ctx, req)
}

// Close stops the worker goroutine. Pending jobs already queued are
// dropped; callers waiting on Handle see ctx.Err() once their own context
// is done, or context.Canceled if Close races their submission.
func (a *Async) Close() {
	close(a.close)
}
