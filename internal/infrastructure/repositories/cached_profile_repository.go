package repositories

import (
	"context"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/pkg/cache"
)

// CachedProfileRepository caches profile lookups by id. Profiles never
// change role after creation, so only lookups are cached; role listings go
// straight to the store.
type CachedProfileRepository struct {
	base  ports.ProfileRepository
	cache *cache.CacheWithFallback
	ttl   time.Duration
}

func NewCachedProfileRepository(base ports.ProfileRepository, ttl time.Duration) *CachedProfileRepository {
	return &CachedProfileRepository{
		base:  base,
		cache: cache.NewCacheWithFallback(ttl),
		ttl:   ttl,
	}
}

func profileKey(id domain.UserID) string {
	return "profile:" + string(id)
}

func (r *CachedProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) error {
	if err := r.base.Create(ctx, profile); err != nil {
		return err
	}
	r.cache.Invalidate(profileKey(profile.ID))
	return nil
}

func (r *CachedProfileRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	value, err := r.cache.GetOrSet(ctx, profileKey(id), func(ctx context.Context) (interface{}, error) {
		return r.base.GetByID(ctx, id)
	}, r.ttl)
	if err != nil {
		return nil, err
	}

	profile := *value.(*domain.UserProfile)
	return &profile, nil
}

func (r *CachedProfileRepository) ListByRole(ctx context.Context, role domain.UserRole) ([]*domain.UserProfile, error) {
	return r.base.ListByRole(ctx, role)
}

func (r *CachedProfileRepository) Stop() {
	r.cache.Stop()
}
