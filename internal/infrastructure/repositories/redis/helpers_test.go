package redis

import (
	"context"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/infrastructure/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// localPublisher notifies the feed of a single instance only.
type localPublisher struct {
	feed *realtime.Feed
}

func (p *localPublisher) Publish(_ context.Context, topics ...realtime.Topic) {
	for _, topic := range topics {
		p.feed.Notify(topic)
	}
}

func (p *localPublisher) Feed() *realtime.Feed {
	return p.feed
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newSession(id domain.SessionID, userID domain.UserID, generation int64) *domain.UserSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.UserSession{
		ID:         id,
		UserID:     userID,
		Generation: generation,
		CreatedAt:  now,
		LastActive: now,
		UserAgent:  "Mozilla/5.0 Chrome/120.0",
		IPAddress:  "203.0.113.7",
	}
}
