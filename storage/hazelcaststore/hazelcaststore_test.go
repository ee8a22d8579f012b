package hazelcaststore_test

import (
	"context"
	"os"
	"testing"

	"github.com/hazelcast/hazelcast-go-client"

	"github.com/sandrolain/rfccache/storage/hazelcaststore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	addr := os.Getenv("RFCCACHE_HAZELCAST_ADDR")
	if addr == "" {
		t.Skip("RFCCACHE_HAZELCAST_ADDR not set, skipping Hazelcast-backed conformance test")
	}

	ctx := context.Background()
	cfg := hazelcast.NewConfig()
	cfg.Cluster.Network.SetAddresses(addr)
	client, err := hazelcast.StartNewClientWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("hazelcast.StartNewClientWithConfig: %v", err)
	}
	defer client.Shutdown(ctx)

	m, err := client.GetMap(ctx, "rfccache_test")
	if err != nil {
		t.Fatalf("GetMap: %v", err)
	}

	store := hazelcaststore.NewWithMap(m)
	storagetest.Backend(t, store)
}
