package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Client is one device's view of the identity service: it holds at most one
// signed-in identity and tells listeners when it changes.
type Client struct {
	credentials ports.CredentialRepository
	profiles    ports.ProfileRepository
	tokens      services.TokenService
	hashCost    int
	logger      *zap.SugaredLogger

	mu        sync.Mutex
	current   *domain.Identity
	claims    *services.Claims
	listeners map[uint64]func(*domain.Identity)
	nextID    uint64
}

var _ ports.IdentityProvider = (*Client)(nil)

type Option func(*Client)

// WithHashCost overrides the bcrypt cost used for new credentials.
func WithHashCost(cost int) Option {
	return func(c *Client) { c.hashCost = cost }
}

// WithProfiles lets sign-in embed the account role in issued tokens.
func WithProfiles(profiles ports.ProfileRepository) Option {
	return func(c *Client) { c.profiles = profiles }
}

func NewClient(
	credentials ports.CredentialRepository,
	tokens services.TokenService,
	logger *zap.SugaredLogger,
	opts ...Option,
) *Client {
	c := &Client{
		credentials: credentials,
		tokens:      tokens,
		hashCost:    bcrypt.DefaultCost,
		logger:      logger,
		listeners:   make(map[uint64]func(*domain.Identity)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = utils.NormalizeEmail(email)

	cred, err := c.credentials.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	var role domain.UserRole
	if c.profiles != nil {
		if profile, err := c.profiles.GetByID(ctx, cred.UserID); err == nil {
			role = profile.Role
		}
	}

	token, claims, err := c.tokens.GenerateToken(cred.UserID, cred.Email, role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	identity := &domain.Identity{UserID: cred.UserID, Email: cred.Email, Token: token}
	c.set(identity, claims)
	return identity, nil
}

// SignUp registers a credential. It does not sign the new account in, so an
// administrator can create accounts without losing their own identity.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = utils.NormalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &domain.Credential{
		UserID:       domain.UserID(uuid.New().String()),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    utils.Now(),
	}
	if err := c.credentials.Create(ctx, cred); err != nil {
		return nil, err
	}

	c.logger.Infow("credential created", "user_id", cred.UserID)
	return &domain.Identity{UserID: cred.UserID, Email: cred.Email}, nil
}

// Resume restores a signed-in identity from a previously issued token.
func (c *Client) Resume(ctx context.Context, token string) (*domain.Identity, error) {
	claims, err := c.tokens.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	identity := &domain.Identity{UserID: claims.UserID, Email: claims.Email, Token: token}
	c.set(identity, claims)
	return identity, nil
}

// SignOut revokes the current token. The local identity is dropped even when
// revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	claims := c.claims
	signedIn := c.current != nil
	c.mu.Unlock()

	if !signedIn {
		return nil
	}

	var revokeErr error
	if err := c.tokens.RevokeToken(ctx, claims); err != nil {
		revokeErr = fmt.Errorf("failed to revoke token: %w", err)
	}

	c.set(nil, nil)
	return revokeErr
}

func (c *Client) Current() *domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Claims returns the claims of the current token, or nil.
func (c *Client) Claims() *services.Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

// OnIdentityChange calls fn with the current identity right away and after
// every change.
func (c *Client) OnIdentityChange(fn func(*domain.Identity)) ports.Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := c.current
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) set(identity *domain.Identity, claims *services.Claims) {
	c.mu.Lock()
	c.current = identity
	c.claims = claims
	listeners := make([]func(*domain.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(identity)
	}
}

// IsAuthError reports whether err means the caller presented bad credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrInvalidCredentials) ||
		errors.Is(err, services.ErrInvalidToken) ||
		errors.Is(err, services.ErrExpiredToken) ||
		errors.Is(err, services.ErrRevokedToken)
}
