package natskvstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/sandrolain/rfccache/storage/natskvstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	url := os.Getenv("RFCCACHE_NATS_URL")
	if url == "" {
		t.Skip("RFCCACHE_NATS_URL not set, skipping NATS JetStream KV-backed conformance test")
	}

	ctx := context.Background()
	store, err := natskvstore.New(ctx, natskvstore.Config{NATSUrl: url, Bucket: "rfccache_test"})
	if err != nil {
		t.Fatalf("natskvstore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
