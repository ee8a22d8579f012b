package redisstore_test

import (
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/sandrolain/rfccache/storage/redisstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	addr := os.Getenv("RFCCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("RFCCACHE_REDIS_ADDR not set, skipping Redis-backed conformance test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	store := redisstore.New(client, nil)
	storagetest.Backend(t, store)
}
