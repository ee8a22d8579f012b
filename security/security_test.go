package security_test

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/security"
	"github.com/sandrolain/rfccache/storage"
	"github.com/sandrolain/rfccache/storage/memstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	store, err := security.New(memstore.New(), security.Config{Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("security.New: %v", err)
	}
	storagetest.Backend(t, store)
}

func TestEncryptsBodyAtRest(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store, err := security.New(inner, security.Config{Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("security.New: %v", err)
	}

	u, _ := url.Parse("https://example.com/secret")
	req := rfccache.NewRequest(http.MethodGet, u, nil)
	resp := rfccache.NewResponse(http.StatusOK, nil, nil)

	entry, err := store.CreateEntry(ctx, "secret-key", req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	plaintext := []byte("this response body must never be written to the inner backend in the clear")
	w, err := store.OpenBodyWriter(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyWriter: %v", err)
	}
	if err := w.Write(ctx, plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	innerReader, err := inner.OpenBodyReader(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("inner OpenBodyReader: %v", err)
	}
	raw, end, err := innerReader.Next(ctx)
	if err != nil || end {
		t.Fatalf("inner Next: raw=%q end=%v err=%v", raw, end, err)
	}
	if bytes.Equal(raw, plaintext) {
		t.Fatal("expected ciphertext in the inner backend, got plaintext")
	}

	reader, err := store.OpenBodyReader(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyReader: %v", err)
	}
	got, end, err := reader.Next(ctx)
	if err != nil || end {
		t.Fatalf("Next: got=%q end=%v err=%v", got, end, err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestHashesCacheKeysAgainstInnerBackend(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store, err := security.New(inner, security.Config{Passphrase: "s3cr3t", HashCacheKeys: true})
	if err != nil {
		t.Fatalf("security.New: %v", err)
	}

	u, _ := url.Parse("https://example.com/resource")
	req := rfccache.NewRequest(http.MethodGet, u, nil)
	resp := rfccache.NewResponse(http.StatusOK, nil, nil)

	const plainKey = "GET:https://example.com/resource"
	entry, err := store.CreateEntry(ctx, plainKey, req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	w, err := store.OpenBodyWriter(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyWriter: %v", err)
	}
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if entries, _ := inner.GetEntries(ctx, plainKey, false); len(entries) != 0 {
		t.Fatal("expected the inner backend to never see the plaintext cache key")
	}

	entries, err := store.GetEntries(ctx, plainKey, false)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].CacheKey != plainKey {
		t.Fatalf("expected CacheKey to be restored to plaintext, got %q", entries[0].CacheKey)
	}
}
