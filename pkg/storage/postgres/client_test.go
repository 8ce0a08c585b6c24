package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"tsengine/config"
	"tsengine/pkg/storage/postgres"

	"github.com/stretchr/testify/require"
)

// liveConfig returns a local archive config, skipping unless
// TSENGINE_TEST_POSTGRES names a reachable host.
func liveConfig(t *testing.T, dbname string) config.PostgresConfig {
	t.Helper()
	host := os.Getenv("TSENGINE_TEST_POSTGRES")
	if host == "" {
		t.Skip("set TSENGINE_TEST_POSTGRES=<host> to run against a live database")
	}
	return config.PostgresConfig{
		Host:     host,
		Port:     5432,
		User:     "postgres",
		Password: os.Getenv("TSENGINE_TEST_POSTGRES_PASSWORD"),
		DBName:   dbname,
		SSLMode:  "disable",
		TimeZone: "UTC",

		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// go test -v --run ^TestPostgresInvalidDSN$
func TestPostgresInvalidDSN(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	invalidDSN := "host=invalid.invalid port=5432 user=fail password=fail dbname=fail sslmode=disable connect_timeout=2"

	_, err := postgres.NewClient(invalidDSN)
	require.Error(t, err)
}

// go test -v --run ^TestInitializeAndMigrate$
func TestInitializeAndMigrate(t *testing.T) {
	cfg := liveConfig(t, "tsengine_test")

	client, err := postgres.InitializeAndMigrate(context.Background(), cfg, "dev", true)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.True(t, client.IsHealthy(ctx))
	require.NoError(t, client.AutoMigrateBarRecord())
}
