package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/realtime"
	"audiocast/pkg/retry"

	"github.com/redis/go-redis/v9"
)

// Publisher announces changed topics to every instance watching them.
type Publisher interface {
	Publish(ctx context.Context, topics ...realtime.Topic)
	Feed() *realtime.Feed
}

// createIfLatestScript writes the session only while its generation is the
// user's current one.
var createIfLatestScript = redis.NewScript(`
local current = tonumber(redis.call("get", KEYS[1]) or "0")
if current ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("set", KEYS[2], ARGV[2])
redis.call("sadd", KEYS[3], ARGV[3])
redis.call("sadd", KEYS[4], ARGV[3])
return 1
`)

type RedisSessionRepository struct {
	client *redis.Client
	bus    Publisher
}

func NewRedisSessionRepository(client *redis.Client, bus Publisher) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		bus:    bus,
	}
}

func (r *RedisSessionRepository) NextGeneration(ctx context.Context, userID domain.UserID) (int64, error) {
	gen, err := r.client.Incr(ctx, sessionGenerationKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment session generation: %w", err)
	}
	return gen, nil
}

func (r *RedisSessionRepository) CreateIfLatest(ctx context.Context, session *domain.UserSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	keys := []string{
		sessionGenerationKey(session.UserID),
		sessionKey(session.ID),
		userSessionsKey(session.UserID),
		allSessionsKey(),
	}
	written, err := createIfLatestScript.Run(ctx, r.client, keys, session.Generation, data, string(session.ID)).Int()
	if err != nil {
		return fmt.Errorf("failed to write session in Redis: %w", err)
	}
	if written == 0 {
		return domain.ErrSessionSuperseded
	}

	r.bus.Publish(ctx, realtime.SessionTopic(session.ID), realtime.AllSessionsTopic)
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.UserSession, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.UserSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) FindByUser(ctx context.Context, userID domain.UserID) ([]*domain.UserSession, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions from Redis: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *RedisSessionRepository) List(ctx context.Context) ([]*domain.UserSession, error) {
	ids, err := r.client.SMembers(ctx, allSessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions from Redis: %w", err)
	}

	sessions, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
	return sessions, nil
}

func (r *RedisSessionRepository) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	key := sessionKey(id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var session domain.UserSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		session.LastActive = at

		updated, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("failed to touch session in Redis: %w", err)
	}

	r.bus.Publish(ctx, realtime.SessionTopic(id), realtime.AllSessionsTopic)
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	session, err := r.GetByID(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		pipe.SRem(ctx, userSessionsKey(session.UserID), string(id))
		pipe.SRem(ctx, allSessionsKey(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}

	r.bus.Publish(ctx, realtime.SessionTopic(id), realtime.AllSessionsTopic)
	return nil
}

// firstRead bounds how long a watch waits for a readable first snapshot.
var firstRead = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2,
	Retryable: func(err error) bool {
		return !errors.Is(err, domain.ErrSessionNotFound)
	},
}

func (r *RedisSessionRepository) WatchSession(ctx context.Context, id domain.SessionID, fn func(*domain.UserSession)) (ports.Unsubscribe, error) {
	// Deliveries of one subscription are sequential.
	delivered := false
	return r.bus.Feed().Subscribe(ctx, realtime.SessionTopic(id), func(ctx context.Context) {
		var session *domain.UserSession
		var err error
		if delivered {
			session, err = r.GetByID(ctx, id)
		} else {
			session, err = retry.RetryWithResult(ctx, firstRead, func() (*domain.UserSession, error) {
				return r.GetByID(ctx, id)
			})
		}

		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			fn(nil)
		case err != nil && delivered:
			// A failed read is not evidence of deletion.
			return
		case err != nil:
			// The first call is owed even when unreadable, so later
			// deliveries are never mistaken for the initial state.
			fn(nil)
		default:
			fn(session)
		}
		delivered = true
	}), nil
}

func (r *RedisSessionRepository) WatchAll(ctx context.Context, fn func([]*domain.UserSession)) (ports.Unsubscribe, error) {
	return r.bus.Feed().Subscribe(ctx, realtime.AllSessionsTopic, func(ctx context.Context) {
		sessions, err := r.List(ctx)
		if err != nil {
			return
		}
		fn(sessions)
	}), nil
}

func (r *RedisSessionRepository) load(ctx context.Context, ids []string) ([]*domain.UserSession, error) {
	sessions := make([]*domain.UserSession, 0, len(ids))
	for _, id := range ids {
		session, err := r.GetByID(ctx, domain.SessionID(id))
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Skip index entries whose record is already gone
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
