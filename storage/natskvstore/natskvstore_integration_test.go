//go:build integration

package natskvstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/sandrolain/rfccache/storage/natskvstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

const natsImage = "nats:2-alpine"

var sharedNATSURL string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, natsImage)
	if err != nil {
		panic("failed to start NATS container: " + err.Error())
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get NATS connection string: " + err.Error())
	}
	sharedNATSURL = uri

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate NATS container: " + err.Error())
	}
	os.Exit(code)
}

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, err := natskvstore.New(ctx, natskvstore.Config{NATSUrl: sharedNATSURL, Bucket: "rfccache_test"})
	if err != nil {
		t.Fatalf("natskvstore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
