package mongostore_test

import (
	"context"
	"os"
	"testing"

	"github.com/sandrolain/rfccache/storage/mongostore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("RFCCACHE_MONGO_URI")
	if uri == "" {
		t.Skip("RFCCACHE_MONGO_URI not set, skipping MongoDB-backed conformance test")
	}

	ctx := context.Background()
	cfg := mongostore.DefaultConfig()
	cfg.Database = "rfccache_test"
	store, err := mongostore.New(ctx, uri, &cfg)
	if err != nil {
		t.Fatalf("mongostore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
