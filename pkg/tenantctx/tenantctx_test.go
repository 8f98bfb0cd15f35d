package tenantctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithAndFrom(t *testing.T) {
	ctx := With(context.Background(), "tenant-a", "alice")

	scope, ok := From(ctx)
	require.True(t, ok)
	require.Equal(t, "tenant-a", scope.TenantID)
	require.Equal(t, "alice", scope.Actor)
}

func TestFrom_MissingScope(t *testing.T) {
	_, ok := From(context.Background())
	require.False(t, ok)
}

func TestWith_ReplacesExistingScope(t *testing.T) {
	ctx := With(context.Background(), "tenant-a", "alice")
	ctx = With(ctx, "tenant-b", "bob")

	scope, ok := From(ctx)
	require.True(t, ok)
	require.Equal(t, "tenant-b", scope.TenantID)
	require.Equal(t, "bob", scope.Actor)
}
