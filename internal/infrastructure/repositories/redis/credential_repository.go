package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisCredentialRepository struct {
	client *redis.Client
}

func NewRedisCredentialRepository(client *redis.Client) ports.CredentialRepository {
	return &RedisCredentialRepository{client: client}
}

func (r *RedisCredentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	created, err := r.client.SetNX(ctx, credentialKey(cred.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create credential in Redis: %w", err)
	}
	if !created {
		return domain.ErrCredentialExists
	}
	return nil
}

func (r *RedisCredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	data, err := r.client.Get(ctx, credentialKey(email)).Result()
	if err == redis.Nil {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential from Redis: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

func (r *RedisCredentialRepository) RevokeToken(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedTokenKey(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token in Redis: %w", err)
	}
	return nil
}

func (r *RedisCredentialRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedTokenKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}
