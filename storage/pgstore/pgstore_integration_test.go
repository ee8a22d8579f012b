//go:build integration

package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sandrolain/rfccache/storage/pgstore"
	"github.com/sandrolain/rfccache/storage/storagetest"
)

const (
	postgresImage    = "postgres:18.0-alpine3.22"
	postgresPassword = "testpassword"
	postgresUser     = "testuser"
	postgresDB       = "rfccache_test"
)

var sharedPostgresDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		panic("failed to start PostgreSQL container: " + err.Error())
	}

	host, err := container.Host(ctx)
	if err != nil {
		panic("failed to get container host: " + err.Error())
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic("failed to get container port: " + err.Error())
	}
	sharedPostgresDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, host, port.Port(), postgresDB)

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		panic("failed to terminate PostgreSQL container: " + err.Error())
	}
	os.Exit(code)
}

func TestStoreConformanceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store, err := pgstore.New(ctx, sharedPostgresDSN, nil)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	defer store.Close()

	storagetest.Backend(t, store)
}
