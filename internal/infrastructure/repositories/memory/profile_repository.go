package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

type MemoryProfileRepository struct {
	profiles map[domain.UserID]*domain.UserProfile
	mu       sync.RWMutex
}

func NewMemoryProfileRepository() ports.ProfileRepository {
	return &MemoryProfileRepository{
		profiles: make(map[domain.UserID]*domain.UserProfile),
	}
}

func (r *MemoryProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[profile.ID]; exists {
		return domain.ErrProfileExists
	}

	stored := *profile
	r.profiles[profile.ID] = &stored
	return nil
}

func (r *MemoryProfileRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.profiles[id]
	if !exists {
		return nil, domain.ErrProfileNotFound
	}
	found := *profile
	return &found, nil
}

func (r *MemoryProfileRepository) ListByRole(ctx context.Context, role domain.UserRole) ([]*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*domain.UserProfile{}
	for _, profile := range r.profiles {
		if profile.Role == role {
			found := *profile
			result = append(result, &found)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name()) < strings.ToLower(result[j].Name())
	})
	return result, nil
}
