package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "domainman:revoked:"

// RevocationStore は失効したトークンのjtiを保持する。
type RevocationStore interface {
	// Revoke はjtiをttlの間だけ失効扱いにする。
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	// IsRevoked はjtiが失効済みかを返す。
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocationStore はRedisを使ったRevocationStore。
// clientがnilの場合は何も記録せず、常に未失効を返す。
type RedisRevocationStore struct {
	client *redis.Client
}

// NewRedisRevocationStore はRedisRevocationStoreを生成する。
func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client}
}

// NewRedisClient はREDIS_URL形式のURLからRedisクライアントを生成する。
// urlが空の場合はnilを返す。
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Revoke はjtiを失効扱いにする。ttlが0以下の場合は既に期限切れのため記録しない。
func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked はjtiが失効済みかを返す。
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

var _ RevocationStore = (*RedisRevocationStore)(nil)
