//go:build integration

package memcachestore_test

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	memcachedcontainer "github.com/testcontainers/testcontainers-go/modules/memcached"

	"github.com/sandrolain/rfccache/storage/memcachestore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

const memcachedImage = "memcached:1.6-alpine"

var (
	sharedMemcachedContainer testcontainers.Container
	sharedMemcachedEndpoint  string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := memcachedcontainer.Run(ctx, memcachedImage)
	if err != nil {
		panic("failed to start memcached container: " + err.Error())
	}
	sharedMemcachedContainer = container

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		panic("failed to get memcached endpoint: " + err.Error())
	}
	sharedMemcachedEndpoint = endpoint

	code := m.Run()

	if err := testcontainers.TerminateContainer(sharedMemcachedContainer); err != nil {
		panic("failed to terminate memcached container: " + err.Error())
	}
	os.Exit(code)
}

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := memcachestore.New(sharedMemcachedEndpoint)
	storagetest.Backend(t, store)
}
