package services

import (
	"context"
	"errors"
	"time"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	apperrors "audiocast/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
	ErrUnauthorized = errors.New("unauthorized")
)

func init() {
	for _, err := range []error{ErrInvalidToken, ErrExpiredToken, ErrRevokedToken, ErrUnauthorized} {
		apperrors.Register(err, apperrors.ClassAuthorization, apperrors.ErrCodeUnauthorized)
	}
}

type TokenService interface {
	GenerateToken(userID domain.UserID, email string, role domain.UserRole) (string, *Claims, error)
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
	// RevokeToken blacklists the token id until the token would expire anyway.
	RevokeToken(ctx context.Context, claims *Claims) error
}

type Claims struct {
	UserID domain.UserID   `json:"user_id"`
	Email  string          `json:"email"`
	Role   domain.UserRole `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type tokenService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	revocations    ports.CredentialRepository // Optional, can be nil
}

func NewTokenService(
	jwtSecret string,
	accessTokenTTL time.Duration,
	revocations ports.CredentialRepository, // Can be nil for signature-only validation
) TokenService {
	return &tokenService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		revocations:    revocations,
	}
}

func (s *tokenService) GenerateToken(userID domain.UserID, email string, role domain.UserRole) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (s *tokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.revocations != nil && claims.ID != "" {
		revoked, err := s.revocations.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}

	return claims, nil
}

func (s *tokenService) RevokeToken(ctx context.Context, claims *Claims) error {
	if s.revocations == nil || claims == nil || claims.ID == "" {
		return nil
	}
	until := time.Now().Add(s.accessTokenTTL)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.revocations.RevokeToken(ctx, claims.ID, until)
}

type userContextKey struct{}

// ContextWithClaims attaches authenticated claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(userContextKey{}).(*Claims)
	if !ok || claims == nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
