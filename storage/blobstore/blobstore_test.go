package blobstore_test

import (
	"context"
	"testing"

	_ "gocloud.dev/blob/memblob"

	"github.com/sandrolain/rfccache/storage/blobstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()
	store, err := blobstore.New(ctx, blobstore.Config{BucketURL: "mem://"})
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
