package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/realtime"
)

type MemorySessionRepository struct {
	sessions    map[domain.SessionID]*domain.UserSession
	generations map[domain.UserID]int64
	feed        *realtime.Feed
	mu          sync.RWMutex
}

func NewMemorySessionRepository(feed *realtime.Feed) ports.SessionRepository {
	return &MemorySessionRepository{
		sessions:    make(map[domain.SessionID]*domain.UserSession),
		generations: make(map[domain.UserID]int64),
		feed:        feed,
	}
}

func (r *MemorySessionRepository) NextGeneration(ctx context.Context, userID domain.UserID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generations[userID]++
	return r.generations[userID], nil
}

func (r *MemorySessionRepository) CreateIfLatest(ctx context.Context, session *domain.UserSession) error {
	r.mu.Lock()
	if r.generations[session.UserID] != session.Generation {
		r.mu.Unlock()
		return domain.ErrSessionSuperseded
	}
	stored := *session
	r.sessions[session.ID] = &stored
	r.mu.Unlock()

	r.notify(session.ID)
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	found := *session
	return &found, nil
}

func (r *MemorySessionRepository) FindByUser(ctx context.Context, userID domain.UserID) ([]*domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.UserSession
	for _, session := range r.sessions {
		if session.UserID == userID {
			found := *session
			result = append(result, &found)
		}
	}
	return result, nil
}

func (r *MemorySessionRepository) List(ctx context.Context) ([]*domain.UserSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.UserSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		found := *session
		result = append(result, &found)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActive.After(result[j].LastActive)
	})
	return result, nil
}

func (r *MemorySessionRepository) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	r.mu.Lock()
	session, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	session.LastActive = at
	r.mu.Unlock()

	r.notify(id)
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	_, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if exists {
		r.notify(id)
	}
	return nil
}

func (r *MemorySessionRepository) WatchSession(ctx context.Context, id domain.SessionID, fn func(*domain.UserSession)) (ports.Unsubscribe, error) {
	return r.feed.Subscribe(ctx, realtime.SessionTopic(id), func(ctx context.Context) {
		session, err := r.GetByID(ctx, id)
		if err != nil {
			session = nil
		}
		fn(session)
	}), nil
}

func (r *MemorySessionRepository) WatchAll(ctx context.Context, fn func([]*domain.UserSession)) (ports.Unsubscribe, error) {
	return r.feed.Subscribe(ctx, realtime.AllSessionsTopic, func(ctx context.Context) {
		sessions, _ := r.List(ctx)
		fn(sessions)
	}), nil
}

func (r *MemorySessionRepository) notify(id domain.SessionID) {
	r.feed.Notify(realtime.SessionTopic(id))
	r.feed.Notify(realtime.AllSessionsTopic)
}
