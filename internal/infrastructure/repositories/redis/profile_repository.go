package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisProfileRepository struct {
	client *redis.Client
}

func NewRedisProfileRepository(client *redis.Client) ports.ProfileRepository {
	return &RedisProfileRepository{client: client}
}

func (r *RedisProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	created, err := r.client.SetNX(ctx, profileKey(profile.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create profile in Redis: %w", err)
	}
	if !created {
		return domain.ErrProfileExists
	}

	if err := r.client.SAdd(ctx, roleProfilesKey(profile.Role), string(profile.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index profile role: %w", err)
	}
	return nil
}

func (r *RedisProfileRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	data, err := r.client.Get(ctx, profileKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile from Redis: %w", err)
	}

	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

func (r *RedisProfileRepository) ListByRole(ctx context.Context, role domain.UserRole) ([]*domain.UserProfile, error) {
	ids, err := r.client.SMembers(ctx, roleProfilesKey(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get role index from Redis: %w", err)
	}

	profiles := make([]*domain.UserProfile, 0, len(ids))
	for _, id := range ids {
		profile, err := r.GetByID(ctx, domain.UserID(id))
		if errors.Is(err, domain.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return strings.ToLower(profiles[i].Name()) < strings.ToLower(profiles[j].Name())
	})
	return profiles, nil
}
