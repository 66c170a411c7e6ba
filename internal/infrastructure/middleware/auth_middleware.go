package middleware

import (
	"strings"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/services"
	apperrors "audiocast/pkg/errors"
	"audiocast/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextRole   = "role"
	ContextToken  = "token"
)

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}

func AuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := tokens.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		setClaims(c, token, claims)
		c.Next()
	}
}

func OptionalAuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := tokens.ValidateToken(c.Request.Context(), token); err == nil {
				setClaims(c, token, claims)
			}
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, token string, claims *services.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextEmail, claims.Email)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextToken, token)

	ctx := services.ContextWithClaims(c.Request.Context(), claims)
	ctx = logger.WithUserID(ctx, string(claims.UserID))
	c.Request = c.Request.WithContext(ctx)
}

// RequireRole rejects callers whose token does not carry one of roles. It
// must run after AuthMiddleware.
func RequireRole(roles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextRole)
		if !exists {
			abortWith(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}

		role, _ := value.(domain.UserRole)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		abortWith(c, apperrors.NewForbiddenError("insufficient permissions"))
	}
}
