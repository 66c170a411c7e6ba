package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func newTestClient(t *testing.T) (*Client, services.TokenService) {
	t.Helper()
	creds := memory.NewMemoryCredentialRepository()
	tokens := services.NewTokenService("test-secret", time.Hour, creds)
	return NewClient(creds, tokens, zaptest.NewLogger(t).Sugar(), WithHashCost(bcrypt.MinCost)), tokens
}

func TestClient_SignUpAndSignIn(t *testing.T) {
	client, tokens := newTestClient(t)
	ctx := context.Background()

	created, err := client.SignUp(ctx, "  Alice@Example.com ", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Nil(t, client.Current(), "sign-up must not sign in")

	identity, err := client.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.UserID, identity.UserID)
	assert.NotEmpty(t, identity.Token)
	assert.Equal(t, identity, client.Current())

	claims, err := tokens.ValidateToken(ctx, identity.Token)
	require.NoError(t, err)
	assert.Equal(t, created.UserID, claims.UserID)
}

func TestClient_SignInFailures(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.SignUp(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)

	_, err = client.SignIn(ctx, "bob@example.com", "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = client.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.True(t, IsAuthError(err))

	_, err = client.SignUp(ctx, "BOB@example.com", "other-secret")
	assert.ErrorIs(t, err, domain.ErrCredentialExists)
}

func TestClient_SignOutRevokesToken(t *testing.T) {
	client, tokens := newTestClient(t)
	ctx := context.Background()

	_, err := client.SignUp(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	identity, err := client.SignIn(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, client.SignOut(ctx))
	assert.Nil(t, client.Current())

	_, err = tokens.ValidateToken(ctx, identity.Token)
	assert.ErrorIs(t, err, services.ErrRevokedToken)

	// signing out twice is harmless
	assert.NoError(t, client.SignOut(ctx))
}

func TestClient_OnIdentityChange(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []*domain.Identity
	unsubscribe := client.OnIdentityChange(func(identity *domain.Identity) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, identity)
	})

	_, err := client.SignUp(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)
	_, err = client.SignIn(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, client.SignOut(ctx))

	unsubscribe()
	_, err = client.SignIn(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	assert.NotNil(t, seen[1])
	assert.Nil(t, seen[2])
}

func TestClient_Resume(t *testing.T) {
	client, tokens := newTestClient(t)
	ctx := context.Background()

	_, err := client.SignUp(ctx, "erin@example.com", "secret1")
	require.NoError(t, err)
	identity, err := client.SignIn(ctx, "erin@example.com", "secret1")
	require.NoError(t, err)

	other := NewClient(memory.NewMemoryCredentialRepository(), tokens, zaptest.NewLogger(t).Sugar())
	resumed, err := other.Resume(ctx, identity.Token)
	require.NoError(t, err)
	assert.Equal(t, identity.UserID, resumed.UserID)
	require.NotNil(t, other.Claims())

	_, err = other.Resume(ctx, "garbage")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestClient_RoleInToken(t *testing.T) {
	creds := memory.NewMemoryCredentialRepository()
	profiles := memory.NewMemoryProfileRepository()
	tokens := services.NewTokenService("test-secret", time.Hour, creds)
	client := NewClient(creds, tokens, zaptest.NewLogger(t).Sugar(), WithHashCost(bcrypt.MinCost), WithProfiles(profiles))
	ctx := context.Background()

	created, err := client.SignUp(ctx, "admin@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, profiles.Create(ctx, &domain.UserProfile{ID: created.UserID, Email: created.Email, Role: domain.RoleAdmin}))

	identity, err := client.SignIn(ctx, "admin@example.com", "secret1")
	require.NoError(t, err)
	claims, err := tokens.ValidateToken(ctx, identity.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}
