package memory

import (
	"context"
	"sort"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/infrastructure/realtime"

	"github.com/google/uuid"
)

type MemoryPermissionRepository struct {
	permissions map[domain.PermissionID]*domain.StreamPermission
	feed        *realtime.Feed
	mu          sync.RWMutex
}

func NewMemoryPermissionRepository(feed *realtime.Feed) ports.PermissionRepository {
	return &MemoryPermissionRepository{
		permissions: make(map[domain.PermissionID]*domain.StreamPermission),
		feed:        feed,
	}
}

func (r *MemoryPermissionRepository) Create(ctx context.Context, perm *domain.StreamPermission) (*domain.StreamPermission, error) {
	stored := *perm
	if stored.ID == "" {
		stored.ID = domain.PermissionID(uuid.New().String())
	}

	r.mu.Lock()
	r.permissions[stored.ID] = &stored
	r.mu.Unlock()

	r.feed.Notify(realtime.PermissionsTopic(stored.SubscriberID))

	created := stored
	return &created, nil
}

func (r *MemoryPermissionRepository) GetByID(ctx context.Context, id domain.PermissionID) (*domain.StreamPermission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perm, exists := r.permissions[id]
	if !exists {
		return nil, domain.ErrPermissionNotFound
	}
	found := *perm
	return &found, nil
}

func (r *MemoryPermissionRepository) Update(ctx context.Context, id domain.PermissionID, patch domain.PermissionPatch) error {
	r.mu.Lock()
	perm, exists := r.permissions[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrPermissionNotFound
	}
	patch.Apply(perm)
	subscriberID := perm.SubscriberID
	r.mu.Unlock()

	r.feed.Notify(realtime.PermissionsTopic(subscriberID))
	return nil
}

func (r *MemoryPermissionRepository) Delete(ctx context.Context, id domain.PermissionID) error {
	r.mu.Lock()
	perm, exists := r.permissions[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrPermissionNotFound
	}
	delete(r.permissions, id)
	r.mu.Unlock()

	r.feed.Notify(realtime.PermissionsTopic(perm.SubscriberID))
	return nil
}

func (r *MemoryPermissionRepository) FindBySubscriber(ctx context.Context, subscriberID domain.UserID) ([]*domain.StreamPermission, error) {
	return r.find(func(p *domain.StreamPermission) bool {
		return p.SubscriberID == subscriberID
	}), nil
}

func (r *MemoryPermissionRepository) FindByPair(ctx context.Context, publisherID, subscriberID domain.UserID) ([]*domain.StreamPermission, error) {
	return r.find(func(p *domain.StreamPermission) bool {
		return p.PublisherID == publisherID && p.SubscriberID == subscriberID
	}), nil
}

func (r *MemoryPermissionRepository) SubscribeToUserPermissions(ctx context.Context, subscriberID domain.UserID, fn func([]*domain.StreamPermission)) (ports.Unsubscribe, error) {
	return r.feed.Subscribe(ctx, realtime.PermissionsTopic(subscriberID), func(ctx context.Context) {
		perms, _ := r.FindBySubscriber(ctx, subscriberID)
		fn(perms)
	}), nil
}

func (r *MemoryPermissionRepository) find(match func(*domain.StreamPermission) bool) []*domain.StreamPermission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*domain.StreamPermission{}
	for _, perm := range r.permissions {
		if match(perm) {
			found := *perm
			result = append(result, &found)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
