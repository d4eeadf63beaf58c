package auth

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRevocationStore_RevokeAndExpire(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()
	store := NewRedisRevocationStore(client)

	ctx := context.Background()
	require.NoError(t, store.Revoke(ctx, "jti-1", 2*time.Second))

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
	require.True(t, m.Exists("domainman:revoked:jti-1"))

	other, err := store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	require.False(t, other)

	// 有効期限を過ぎると失効記録も消える
	m.FastForward(3 * time.Second)

	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRedisRevocationStore_NonPositiveTTLIsNotStored(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()
	store := NewRedisRevocationStore(client)

	require.NoError(t, store.Revoke(context.Background(), "jti-expired", 0))
	require.False(t, m.Exists("domainman:revoked:jti-expired"))
}

func TestRedisRevocationStore_NoClient_Noop(t *testing.T) {
	store := NewRedisRevocationStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti", time.Minute))
	revoked, err := store.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRedisRevocationStore_BackendDown(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisRevocationStore(client)
	m.Close()

	_, err = store.IsRevoked(context.Background(), "jti")
	require.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("")
	require.NoError(t, err)
	require.Nil(t, client)

	client, err = NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, 2, client.Options().DB)
	client.Close()

	_, err = NewRedisClient("http://not-redis")
	require.Error(t, err)
}
