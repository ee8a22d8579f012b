// Package storagetest exercises any storage.Backend implementation against
// the same conformance suite, mirroring the teacher's single shared Cache
// test helper but expanded for the create/get/update/remove/stream-body
// contract of storage.Backend.
package storagetest

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/storage"
)

// Backend runs the full conformance suite against b. Callers typically wrap
// this in a _test.go file for each concrete backend package.
func Backend(t *testing.T, b storage.Backend) {
	t.Helper()
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, b) })
	t.Run("UpdateEntry", func(t *testing.T) { testUpdateEntry(t, b) })
	t.Run("RemoveEntry", func(t *testing.T) { testRemoveEntry(t, b) })
	t.Run("BodyStream", func(t *testing.T) { testBodyStream(t, b) })
	t.Run("MissingCacheKey", func(t *testing.T) { testMissingKey(t, b) })
}

func sampleRequest(t *testing.T) *rfccache.Request {
	t.Helper()
	u, err := url.Parse("https://example.com/resource")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return rfccache.NewRequest(http.MethodGet, u, http.Header{"Accept": {"text/plain"}})
}

func sampleResponse(t *testing.T) *rfccache.Response {
	t.Helper()
	return rfccache.NewResponse(200, http.Header{
		"Cache-Control": {"max-age=60"},
		"ETag":          {`"v1"`},
	}, []byte("hello"))
}

func testCreateAndGet(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	req := sampleRequest(t)
	resp := sampleResponse(t)

	const key = "conformance:create-and-get"
	entry, err := b.CreateEntry(ctx, key, req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if !entry.Complete() {
		t.Fatal("expected a complete entry when both request and response are supplied")
	}
	w, err := b.OpenBodyWriter(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyWriter: %v", err)
	}
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := b.GetEntries(ctx, key, false)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ResponseStatus != 200 {
		t.Fatalf("expected status 200, got %d", got[0].ResponseStatus)
	}
}

func testUpdateEntry(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	req := sampleRequest(t)
	resp := sampleResponse(t)
	const key = "conformance:update"

	entry, err := b.CreateEntry(ctx, key, req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	updated, err := b.UpdateEntry(ctx, entry.ID, func(e *storage.Entry) (*storage.Entry, error) {
		e.ResponseHeader.Set("Age", "5")
		return e, nil
	})
	if err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	if updated == nil {
		t.Fatal("expected updated entry, got nil")
	}
	if updated.ResponseHeader.Get("Age") != "5" {
		t.Fatalf("expected Age header to be persisted, got %q", updated.ResponseHeader.Get("Age"))
	}
}

func testRemoveEntry(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	req := sampleRequest(t)
	resp := sampleResponse(t)
	const key = "conformance:remove"

	entry, err := b.CreateEntry(ctx, key, req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if err := b.RemoveEntry(ctx, entry.ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}

	got, err := b.GetEntries(ctx, key, false)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected soft-deleted entry to be invisible, got %d entries", len(got))
	}
}

func testBodyStream(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	req := sampleRequest(t)
	resp := sampleResponse(t)
	const key = "conformance:body-stream"

	entry, err := b.CreateEntry(ctx, key, req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	w, err := b.OpenBodyWriter(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyWriter: %v", err)
	}
	chunks := [][]byte{[]byte("hel"), []byte("lo")}
	for _, c := range chunks {
		if err := w.Write(ctx, c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r, err := b.OpenBodyReader(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyReader: %v", err)
	}
	defer r.Close()

	var got bytes.Buffer
	for {
		chunk, end, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if end {
			break
		}
		got.Write(chunk)
	}
	if got.String() != "hello" {
		t.Fatalf("expected reassembled body %q, got %q", "hello", got.String())
	}
}

func testMissingKey(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	got, err := b.GetEntries(ctx, "conformance:does-not-exist", false)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries for unknown key, got %d", len(got))
	}
}
