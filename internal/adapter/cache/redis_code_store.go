package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

const codeKeyPrefix = "oauth:code:"

// RedisCodeStore implements store.CodeRepository backed by Redis. Keys expire
// with the code, and Consume relies on GETDEL so two concurrent exchanges on
// the same code can never both read the record.
type RedisCodeStore struct {
	client redis.UniversalClient
}

var _ store.CodeRepository = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

// Create stores the encoded code record with a TTL matching its expiry.
func (s *RedisCodeStore) Create(ctx context.Context, code domain.AuthorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("persist code: already expired")
	}
	if err := s.client.Set(ctx, codeKeyPrefix+code.Code, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist code: %w", err)
	}
	return nil
}

// Consume atomically loads and removes the code record.
func (s *RedisCodeStore) Consume(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	bytes, err := s.client.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.AuthorizationCode{}, domain.ErrInvalidGrant
		}
		return domain.AuthorizationCode{}, fmt.Errorf("consume code: %w", err)
	}
	var stored domain.AuthorizationCode
	if err := json.Unmarshal(bytes, &stored); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("decode code: %w", err)
	}
	if time.Now().After(stored.ExpiresAt) {
		return domain.AuthorizationCode{}, domain.ErrInvalidGrant
	}
	return stored, nil
}

// Revoke removes the code record.
func (s *RedisCodeStore) Revoke(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, codeKeyPrefix+code).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("revoke code: %w", err)
	}
	return nil
}
