package compress_test

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/sandrolain/rfccache"
	"github.com/sandrolain/rfccache/compress"
	"github.com/sandrolain/rfccache/storage"
	"github.com/sandrolain/rfccache/storage/memstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformanceGzip(t *testing.T) {
	store, err := compress.New(memstore.New(), compress.Config{Algorithm: compress.Gzip})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	storagetest.Backend(t, store)
}

func TestStoreConformanceBrotli(t *testing.T) {
	store, err := compress.New(memstore.New(), compress.Config{Algorithm: compress.Brotli})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	storagetest.Backend(t, store)
}

func TestStoreConformanceSnappy(t *testing.T) {
	store, err := compress.New(memstore.New(), compress.Config{Algorithm: compress.Snappy})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	storagetest.Backend(t, store)
}

func TestCompressesRepetitiveBodiesAtRest(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store, err := compress.New(inner, compress.Config{Algorithm: compress.Gzip, MinSize: 16})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}

	u, _ := url.Parse("https://example.com/large")
	req := rfccache.NewRequest(http.MethodGet, u, nil)
	resp := rfccache.NewResponse(http.StatusOK, nil, nil)
	entry, err := store.CreateEntry(ctx, "large-body", req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	plaintext := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))
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
		t.Fatalf("inner Next: end=%v err=%v", end, err)
	}
	if len(raw) >= len(plaintext) {
		t.Fatalf("expected compressed chunk to be smaller: stored %d bytes, original %d bytes", len(raw), len(plaintext))
	}

	reader, err := store.OpenBodyReader(ctx, entry.ID, storage.KindResponse)
	if err != nil {
		t.Fatalf("OpenBodyReader: %v", err)
	}
	got, end, err := reader.Next(ctx)
	if err != nil || end {
		t.Fatalf("Next: end=%v err=%v", end, err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("round trip mismatch")
	}

	stats := store.Stats()
	if stats.CompressedCount == 0 {
		t.Fatal("expected CompressedCount to be nonzero")
	}
	if ratio := stats.CompressionRatio(); ratio <= 0 || ratio >= 1 {
		t.Fatalf("expected compression ratio in (0, 1), got %f", ratio)
	}
}

func TestSmallChunksStoredUncompressed(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store, err := compress.New(inner, compress.Config{Algorithm: compress.Snappy, MinSize: 1024})
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}

	u, _ := url.Parse("https://example.com/small")
	req := rfccache.NewRequest(http.MethodGet, u, nil)
	resp := rfccache.NewResponse(http.StatusOK, nil, nil)
	entry, err := store.CreateEntry(ctx, "small-body", req, resp)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	plaintext := []byte("tiny")
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

	if stats := store.Stats(); stats.UncompressedCount == 0 {
		t.Fatal("expected UncompressedCount to be nonzero for a chunk below MinSize")
	}
}
