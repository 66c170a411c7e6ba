package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/realtime"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisPermissionRepository struct {
	client *redis.Client
	bus    Publisher
}

func NewRedisPermissionRepository(client *redis.Client, bus Publisher) ports.PermissionRepository {
	return &RedisPermissionRepository{
		client: client,
		bus:    bus,
	}
}

func (r *RedisPermissionRepository) Create(ctx context.Context, perm *domain.StreamPermission) (*domain.StreamPermission, error) {
	stored := *perm
	if stored.ID == "" {
		stored.ID = domain.PermissionID(uuid.New().String())
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permission: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, permissionKey(stored.ID), data, 0)
		pipe.SAdd(ctx, subscriberPermissionsKey(stored.SubscriberID), string(stored.ID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create permission in Redis: %w", err)
	}

	r.bus.Publish(ctx, realtime.PermissionsTopic(stored.SubscriberID))
	return &stored, nil
}

func (r *RedisPermissionRepository) GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error) {
	data, err := r.client.Get(ctx, permissionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission from Redis: %w", err)
	}

	var perm domain.StreamPermission
	if err := json.Unmarshal([]byte(data), &perm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission: %w", err)
	}
	return &perm, nil
}

func (r *RedisPermissionRepository) Update(ctx context.Context, id domain.PermissionID, patch domain.PermissionPatch) error {
	key := permissionKey(id)
	var subscriberID domain.UserID

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return domain.ErrPermissionNotFound
		}
		if err != nil {
			return err
		}

		var perm domain.StreamPermission
		if err := json.Unmarshal([]byte(data), &perm); err != nil {
			return fmt.Errorf("failed to unmarshal permission: %w", err)
		}
		patch.Apply(&perm)
		subscriberID = perm.SubscriberID

		updated, err := json.Marshal(&perm)
		if err != nil {
			return fmt.Errorf("failed to marshal permission: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, domain.ErrPermissionNotFound) {
			return err
		}
		return fmt.Errorf("failed to update permission in Redis: %w", err)
	}

	r.bus.Publish(ctx, realtime.PermissionsTopic(subscriberID))
	return nil
}

func (r *RedisPermissionRepository) Delete(ctx context.Context, id domain.PermissionID) error {
	perm, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, permissionKey(id))
		pipe.SRem(ctx, subscriberPermissionsKey(perm.SubscriberID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete permission from Redis: %w", err)
	}

	r.bus.Publish(ctx, realtime.PermissionsTopic(perm.SubscriberID))
	return nil
}

func (r *RedisPermissionRepository) FindBySubscriber(ctx context.Context, subscriberID domain.UserID) ([]*domain.StreamPermission, error) {
	ids, err := r.client.SMembers(ctx, subscriberPermissionsKey(subscriberID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber permissions from Redis: %w", err)
	}

	perms := make([]*domain.StreamPermission, 0, len(ids))
	for _, id := range ids {
		perm, err := r.GetByID(ctx, domain.PermissionID(id))
		if errors.Is(err, domain.ErrPermissionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool {
		return perms[i].ID < perms[j].ID
	})
	return perms, nil
}

func (r *RedisPermissionRepository) FindByPair(ctx context.Context, publisherID, subscriberID domain.UserID) ([]*domain.StreamPermission, error) {
	perms, err := r.FindBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	matched := []*domain.StreamPermission{}
	for _, perm := range perms {
		if perm.PublisherID == publisherID {
			matched = append(matched, perm)
		}
	}
	return matched, nil
}

func (r *RedisPermissionRepository) SubscribeToUserPermissions(ctx context.Context, subscriberID domain.UserID, fn func([]*domain.StreamPermission)) (ports.Unsubscribe, error) {
	return r.bus.Feed().Subscribe(ctx, realtime.PermissionsTopic(subscriberID), func(ctx context.Context) {
		perms, err := r.FindBySubscriber(ctx, subscriberID)
		if err != nil {
			return
		}
		fn(perms)
	}), nil
}
