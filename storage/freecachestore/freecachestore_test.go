package freecachestore_test

import (
	"testing"

	"github.com/sandrolain/rfccache/storage/freecachestore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	store := freecachestore.New(4 * 1024 * 1024)
	storagetest.Backend(t, store)
}
