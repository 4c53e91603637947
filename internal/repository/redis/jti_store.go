// internal/repository/redis/jti_store.go
package redisrepo

import (
	"context"
	"fmt"
	"time"

	xerrors "qrlogin-service/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const jtiKeyPrefix = "qr:ticket:jti:"

// JTIStore tracks consumed login-ticket ids. SET NX makes first-use
// atomic across instances; the TTL lets Redis garbage-collect entries
// once the ticket could no longer verify anyway.
type JTIStore struct {
	client *redis.Client
}

func NewJTIStore(client *redis.Client) *JTIStore {
	return &JTIStore{client: client}
}

func (s *JTIStore) MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := s.client.SetNX(ctx, jtiKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.ErrStorageUnavailable, fmt.Sprintf("failed to mark jti used: %v", err))
	}
	return ok, nil
}
