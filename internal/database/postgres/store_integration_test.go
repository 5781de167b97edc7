//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"attendance/internal/database/storetest"
	"attendance/pkg/interfaces"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s", host, port.Port())
}

func dsn(base, database string) string {
	return fmt.Sprintf("%s/%s?sslmode=disable", base, database)
}

func TestIntegration_Store(t *testing.T) {
	ctx := context.Background()
	base := startPostgres(t, ctx)

	// Each subtest gets its own database so the shared suite starts empty.
	var n int
	storetest.Run(t, func(t *testing.T) interfaces.Store {
		admin, err := NewPool(ctx, &PoolConfig{ConnString: dsn(base, "testdb"), MaxConns: 2, MinConns: 1})
		require.NoError(t, err)
		defer admin.Close()

		n++
		dbName := fmt.Sprintf("suite_%d", n)
		_, err = admin.Exec(ctx, "CREATE DATABASE "+dbName)
		require.NoError(t, err)

		store, err := NewStore(ctx, &StoreConfig{
			PoolConfig: PoolConfig{
				ConnString: dsn(base, dbName),
				MaxConns:   10,
				MinConns:   1,
			},
			AutoMigrate: true,
		})
		require.NoError(t, err)
		return store
	})
}

func TestIntegration_MigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	base := startPostgres(t, ctx)

	cfg := &StoreConfig{PoolConfig: PoolConfig{ConnString: dsn(base, "testdb")}, AutoMigrate: true}
	store, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}
