package postgres_test

import (
	"context"
	"testing"

	"tsengine/pkg/storage/postgres"

	"github.com/stretchr/testify/require"
)

// go test -v --run TestCreateDatabase
func TestCreateDatabase(t *testing.T) {
	cfg := liveConfig(t, "tsengine_create-test")

	require.NoError(t, postgres.CreateDatabase(context.Background(), cfg, "dev"))
	// second call finds the database and is a no-op
	require.NoError(t, postgres.CreateDatabase(context.Background(), cfg, "dev"))
}
