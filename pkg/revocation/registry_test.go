package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistryTest(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRegistry(client), mr
}

func TestRegistry_RevokeAndCheck(t *testing.T) {
	registry, _ := setupRegistryTest(t)
	ctx := context.Background()

	revoked, err := registry.IsRevoked(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, registry.Revoke(ctx, "hash-1"))

	revoked, err = registry.IsRevoked(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// other tokens unaffected
	revoked, err = registry.IsRevoked(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRegistry_RevokeIsIdempotent(t *testing.T) {
	registry, _ := setupRegistryTest(t)
	ctx := context.Background()

	require.NoError(t, registry.Revoke(ctx, "hash-1"))
	first, err := registry.Get(ctx, "hash-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, registry.Revoke(ctx, "hash-1"))

	second, err := registry.Get(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt, second.RevokedAt, "re-revoking must preserve the original timestamp")
}

func TestRegistry_Unrevoke(t *testing.T) {
	registry, _ := setupRegistryTest(t)
	ctx := context.Background()

	require.NoError(t, registry.Revoke(ctx, "hash-1"))
	require.NoError(t, registry.Unrevoke(ctx, "hash-1"))

	revoked, err := registry.IsRevoked(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRegistry_UnrevokeMissingEntry(t *testing.T) {
	registry, _ := setupRegistryTest(t)

	err := registry.Unrevoke(context.Background(), "never-revoked")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_GetMissingEntry(t *testing.T) {
	registry, _ := setupRegistryTest(t)

	_, err := registry.Get(context.Background(), "never-revoked")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_List(t *testing.T) {
	registry, _ := setupRegistryTest(t)
	ctx := context.Background()

	require.NoError(t, registry.Revoke(ctx, "hash-a"))
	require.NoError(t, registry.Revoke(ctx, "hash-b"))
	require.NoError(t, registry.Revoke(ctx, "hash-c"))
	require.NoError(t, registry.Unrevoke(ctx, "hash-b"))

	entries, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	hashes := map[string]bool{}
	for _, e := range entries {
		hashes[e.TokenHash] = true
		assert.False(t, e.RevokedAt.IsZero())
	}
	assert.True(t, hashes["hash-a"])
	assert.True(t, hashes["hash-c"])
}

func TestRegistry_Count(t *testing.T) {
	registry, _ := setupRegistryTest(t)
	ctx := context.Background()

	count, err := registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, registry.Revoke(ctx, "hash-a"))
	require.NoError(t, registry.Revoke(ctx, "hash-b"))

	count, err = registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRegistry_FailureIsAnError(t *testing.T) {
	registry, mr := setupRegistryTest(t)
	require.NoError(t, registry.Revoke(context.Background(), "hash-1"))

	mr.Close()

	_, err := registry.IsRevoked(context.Background(), "hash-1")
	assert.Error(t, err, "a registry outage must surface as an error, never as not-revoked")
}
