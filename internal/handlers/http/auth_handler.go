package http

import (
	"net/http"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/internal/infrastructure/identity"
	"audiocast/internal/infrastructure/ipresolver"
	"audiocast/internal/infrastructure/middleware"
	"audiocast/internal/infrastructure/sessionhandle"
	"audiocast/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandlerConfig struct {
	Gateway  services.AuthGatewayConfig
	Registry services.SessionRegistryConfig
	// HashCost overrides the bcrypt cost of new credentials when set.
	HashCost int
	// Cookies, when set, also keeps the session id in a signed cookie for
	// browsers that do not manage the header themselves.
	Cookies *sessionhandle.CookieSigner
}

// AuthHandler serves sign-up, sign-in and session validation for browser
// clients. Each request acts as its own device: the session id travels in
// the X-Session-ID header, or in a signed cookie when cookies are enabled.
type AuthHandler struct {
	credentials ports.CredentialRepository
	profiles    ports.ProfileRepository
	sessions    ports.SessionRepository
	tokens      services.TokenService
	cfg         AuthHandlerConfig
	metrics     ports.MetricsRecorder
	logger      *zap.SugaredLogger
}

func NewAuthHandler(
	credentials ports.CredentialRepository,
	profiles ports.ProfileRepository,
	sessions ports.SessionRepository,
	tokens services.TokenService,
	cfg AuthHandlerConfig,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		profiles:    profiles,
		sessions:    sessions,
		tokens:      tokens,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/signup", h.SignUp)
		api.POST("/signin", h.SignIn)
		api.POST("/signout", middleware.AuthMiddleware(h.tokens), h.SignOut)
		api.POST("/validate", middleware.AuthMiddleware(h.tokens), h.Validate)
	}
}

type requestDevice struct {
	client   *identity.Client
	registry ports.SessionRegistry
	gateway  ports.AuthGateway
}

func (h *AuthHandler) device(c *gin.Context) *requestDevice {
	opts := []identity.Option{identity.WithProfiles(h.profiles)}
	if h.cfg.HashCost > 0 {
		opts = append(opts, identity.WithHashCost(h.cfg.HashCost))
	}
	client := identity.NewClient(h.credentials, h.tokens, h.logger, opts...)

	var handle ports.SessionHandle = sessionhandle.NewHeader(c.Request, c.Writer)
	if h.cfg.Cookies != nil {
		handle = sessionhandle.NewCookie(h.cfg.Cookies, c.Request, c.Writer)
	}
	registry := services.NewSessionRegistry(h.sessions, services.Device{
		Handle:     handle,
		UserAgent:  c.Request.UserAgent(),
		IPResolver: ipresolver.Static(ipresolver.FromRequest(c.Request)),
	}, h.cfg.Registry, h.logger, h.metrics)
	return &requestDevice{
		client:   client,
		registry: registry,
		gateway:  services.NewAuthGateway(client, h.profiles, registry, h.cfg.Gateway, h.logger),
	}
}

type SignUpRequest struct {
	Email       string          `json:"email" binding:"required,max=254"`
	Password    string          `json:"password" binding:"required,max=128"`
	Role        domain.UserRole `json:"role" binding:"required"`
	DisplayName string          `json:"display_name" binding:"max=100"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	profile, err := h.device(c).gateway.SignUp(c.Request.Context(), req.Email, req.Password, req.Role, req.DisplayName)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	device := h.device(c)
	ident, profile, err := device.gateway.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{
		"user_id":      ident.UserID,
		"email":        ident.Email,
		"access_token": ident.Token,
		"profile":      profile,
	}
	if sessionID, ok := device.registry.CurrentSessionID(); ok {
		resp["session_id"] = sessionID
	}
	if claims := device.client.Claims(); claims != nil && claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, resp)
}

// SignOut revokes the caller's token and deletes the session named in the
// X-Session-ID header when it belongs to the caller.
func (h *AuthHandler) SignOut(c *gin.Context) {
	ctx := c.Request.Context()
	device := h.device(c)

	if _, err := device.client.Resume(ctx, c.GetString(middleware.ContextToken)); err != nil {
		c.Error(err)
		return
	}

	if sessionID, ok := device.registry.CurrentSessionID(); ok {
		session, err := h.sessions.GetByID(ctx, sessionID)
		if err == nil && !session.OwnedBy(callerID(c)) {
			c.Error(errors.NewForbiddenError("session belongs to another user"))
			return
		}
	}

	if err := device.gateway.SignOut(ctx); err != nil {
		h.logger.Warnw("sign-out incomplete", "user_id", callerID(c), "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

// Validate is the poll endpoint of a subscriber device. Other roles are
// always valid.
func (h *AuthHandler) Validate(c *gin.Context) {
	role, _ := c.Get(middleware.ContextRole)
	userRole, _ := role.(domain.UserRole)

	valid := h.device(c).registry.ValidateSession(c.Request.Context(), callerID(c), userRole)
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

func callerID(c *gin.Context) domain.UserID {
	id, _ := c.Get(middleware.ContextUserID)
	userID, _ := id.(domain.UserID)
	return userID
}

// IPHandler reports the caller's address as seen through proxies.
func IPHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ip": ipresolver.FromRequest(c.Request)})
}
