package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
)

type MemoryCredentialRepository struct {
	credentials map[string]*domain.Credential
	revoked     map[string]time.Time
	mu          sync.RWMutex
}

func NewMemoryCredentialRepository() ports.CredentialRepository {
	return &MemoryCredentialRepository{
		credentials: make(map[string]*domain.Credential),
		revoked:     make(map[string]time.Time),
	}
}

func (r *MemoryCredentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(cred.Email)
	if _, exists := r.credentials[key]; exists {
		return domain.ErrCredentialExists
	}

	stored := *cred
	r.credentials[key] = &stored
	return nil
}

func (r *MemoryCredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, exists := r.credentials[strings.ToLower(email)]
	if !exists {
		return nil, domain.ErrInvalidCredentials
	}
	found := *cred
	return &found, nil
}

func (r *MemoryCredentialRepository) RevokeToken(ctx context.Context, tokenID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, expiry := range r.revoked {
		if now.After(expiry) {
			delete(r.revoked, id)
		}
	}
	r.revoked[tokenID] = until
	return nil
}

func (r *MemoryCredentialRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, revoked := r.revoked[tokenID]
	return revoked, nil
}
