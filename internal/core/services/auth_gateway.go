package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	apperrors "audiocast/pkg/errors"
	"audiocast/pkg/utils"
	"audiocast/pkg/validation"

	"go.uber.org/zap"
)

type AuthGatewayConfig struct {
	MinPasswordLength int
}

type authGateway struct {
	identity ports.IdentityProvider
	profiles ports.ProfileRepository
	registry ports.SessionRegistry
	cfg      AuthGatewayConfig
	logger   *zap.SugaredLogger

	beforeSignOut []func()
}

type GatewayOption func(*authGateway)

// WithSignOutHook runs fn at the start of every SignOut, before the session
// record is deleted. Devices that watch their own session pass the
// monitor's Stop so an explicit sign-out is never mistaken for a forced one.
func WithSignOutHook(fn func()) GatewayOption {
	return func(g *authGateway) { g.beforeSignOut = append(g.beforeSignOut, fn) }
}

// NewAuthGateway composes the identity collaborator, the profile store and
// the session registry into the sign-in flow of one device.
func NewAuthGateway(
	identity ports.IdentityProvider,
	profiles ports.ProfileRepository,
	registry ports.SessionRegistry,
	cfg AuthGatewayConfig,
	logger *zap.SugaredLogger,
	opts ...GatewayOption,
) ports.AuthGateway {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = validation.DefaultMinPasswordLength
	}
	g := &authGateway{
		identity: identity,
		profiles: profiles,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn authenticates, loads the profile and, for subscribers, replaces any
// session on other devices. An account without a profile is signed in
// without a session. If the session cannot be created the sign-in is
// rolled back.
func (g *authGateway) SignIn(ctx context.Context, email, password string) (*domain.Identity, *domain.UserProfile, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, domain.ErrInvalidCredentials
	}

	identity, err := g.identity.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	profile, err := g.profiles.GetByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			g.logger.Warnw("signed in without a profile",
				"user_id", identity.UserID,
				"email", email,
			)
			return identity, nil, nil
		}
		g.rollback(identity)
		return nil, nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if _, err := g.registry.CreateSession(ctx, profile.ID, profile.Role, profile.Email, profile.DisplayName); err != nil {
		g.rollback(identity)
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	g.logger.Infow("user signed in",
		"user_id", profile.ID,
		"role", profile.Role,
	)
	return identity, profile, nil
}

func (g *authGateway) rollback(identity *domain.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.identity.SignOut(ctx); err != nil {
		g.logger.Warnw("failed to roll back sign-in",
			"user_id", identity.UserID,
			"error", err,
		)
	}
}

// SignUp creates the credential and a matching active profile. The display
// name defaults to the local part of the email address.
func (g *authGateway) SignUp(ctx context.Context, email, password string, role domain.UserRole, displayName string) (*domain.UserProfile, error) {
	email = utils.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidatePassword(password, g.cfg.MinPasswordLength); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateRole(string(role)); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	displayName = utils.SanitizeString(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	identity, err := g.identity.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}

	profile := &domain.UserProfile{
		ID:          identity.UserID,
		Email:       identity.Email,
		Role:        role,
		DisplayName: displayName,
		IsActive:    true,
		CreatedAt:   utils.Now(),
	}
	if err := g.profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	g.logger.Infow("account created",
		"user_id", profile.ID,
		"role", role,
	)
	return profile, nil
}

// SignOut deletes this device's session and then revokes the credential.
// Calling it again after a completed sign-out is a no-op for the session.
func (g *authGateway) SignOut(ctx context.Context) error {
	for _, fn := range g.beforeSignOut {
		fn()
	}
	if sessionID, ok := g.registry.CurrentSessionID(); ok {
		g.registry.DeleteSession(ctx, sessionID)
	}
	return g.identity.SignOut(ctx)
}
