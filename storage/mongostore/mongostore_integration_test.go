//go:build integration

package mongostore_test

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	mongocontainer "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/sandrolain/rfccache/storage/mongostore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

var sharedMongoURI string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := mongocontainer.Run(ctx, "mongo:8",
		mongocontainer.WithUsername("root"),
		mongocontainer.WithPassword("password"),
	)
	if err != nil {
		panic("failed to start MongoDB container: " + err.Error())
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get MongoDB connection string: " + err.Error())
	}
	sharedMongoURI = uri

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate MongoDB container: " + err.Error())
	}
	os.Exit(code)
}

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := mongostore.DefaultConfig()
	cfg.Database = "rfccache_test"
	store, err := mongostore.New(ctx, sharedMongoURI, &cfg)
	if err != nil {
		t.Fatalf("mongostore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
