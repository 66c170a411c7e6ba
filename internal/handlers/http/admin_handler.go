package http

import (
	"net/http"

	"audiocast/internal/core/domain"
	"audiocast/internal/core/ports"
	"audiocast/internal/core/services"
	"audiocast/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler is the backend of the assignment console.
type AdminHandler struct {
	profiles     ports.ProfileRepository
	perms        ports.PermissionRepository
	orchestrator ports.AssignmentOrchestrator
	monitoring   *services.MonitoringService
	logger       *zap.SugaredLogger
}

func NewAdminHandler(
	profiles ports.ProfileRepository,
	perms ports.PermissionRepository,
	orchestrator ports.AssignmentOrchestrator,
	monitoring *services.MonitoringService,
	logger *zap.SugaredLogger,
) *AdminHandler {
	return &AdminHandler{
		profiles:     profiles,
		perms:        perms,
		orchestrator: orchestrator,
		monitoring:   monitoring,
		logger:       logger,
	}
}

// SetupRoutes mounts the console routes under router, which must already
// require an admin token.
func (h *AdminHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/admin")
	{
		api.GET("/users", h.ListUsers)
		api.GET("/sessions", h.ListSessions)
		api.POST("/bulk-assign", h.BulkAssign)

		api.GET("/subscribers/:id/permissions", h.GetPermissions)
		api.PUT("/subscribers/:id/publishers/:pid", h.ToggleAssignment)
		api.PATCH("/subscribers/:id/publishers/:pid", h.SetCapability)
		api.POST("/subscribers/:id/assign-all", h.AssignAll)
		api.POST("/subscribers/:id/unassign-all", h.UnassignAll)
	}
}

// respondNotice renders a failed console action together with the notice
// the console shows for it.
func (h *AdminHandler) respondNotice(c *gin.Context, err error, notice services.Notice) {
	appErr := errors.FromError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Errorw("console action failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
		"notice":  notice,
	})
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	role := domain.UserRole(c.Query("role"))
	if !role.Valid() {
		c.Error(errors.NewInvalidInputError("role must be admin, publisher or subscriber"))
		return
	}

	users, err := h.profiles.ListByRole(c.Request.Context(), role)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AdminHandler) GetPermissions(c *gin.Context) {
	subscriberID := domain.UserID(c.Param("id"))

	perms, err := h.perms.FindBySubscriber(c.Request.Context(), subscriberID)
	if err != nil {
		c.Error(err)
		return
	}

	assigned := make([]domain.UserID, 0, len(perms))
	for publisherID := range domain.AssignedPublishers(perms) {
		assigned = append(assigned, publisherID)
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriber_id":       subscriberID,
		"permissions":         perms,
		"assigned_publishers": assigned,
	})
}

type ToggleRequest struct {
	Assigned *bool `json:"assigned" binding:"required"`
}

func (h *AdminHandler) ToggleAssignment(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("assigned is required"))
		return
	}

	err := h.orchestrator.ToggleAssignment(c.Request.Context(),
		domain.UserID(c.Param("pid")), domain.UserID(c.Param("id")), *req.Assigned)
	notice := services.ToggleNotice(*req.Assigned, err)
	if err != nil {
		h.respondNotice(c, err, notice)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": *req.Assigned, "notice": notice})
}

type CapabilityRequest struct {
	Bit   domain.CapabilityBit `json:"bit" binding:"required"`
	Value *bool                `json:"value" binding:"required"`
}

func (h *AdminHandler) SetCapability(c *gin.Context) {
	var req CapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("bit and value are required"))
		return
	}

	err := h.orchestrator.SetCapabilityBit(c.Request.Context(),
		domain.UserID(c.Param("pid")), domain.UserID(c.Param("id")), req.Bit, *req.Value)
	notice := services.CapabilityNotice(req.Bit, err)
	if err != nil {
		h.respondNotice(c, err, notice)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bit": req.Bit, "value": *req.Value, "notice": notice})
}

func (h *AdminHandler) publisherIDs(c *gin.Context) ([]domain.UserID, error) {
	publishers, err := h.profiles.ListByRole(c.Request.Context(), domain.RolePublisher)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.UserID, 0, len(publishers))
	for _, p := range publishers {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (h *AdminHandler) AssignAll(c *gin.Context) {
	publishers, err := h.publisherIDs(c)
	if err != nil {
		h.respondNotice(c, err, services.AssignAllNotice(ports.AssignResult{}, err))
		return
	}

	result, err := h.orchestrator.AssignAll(c.Request.Context(), domain.UserID(c.Param("id")), publishers)
	notice := services.AssignAllNotice(result, err)
	if err != nil {
		h.respondNotice(c, err, notice)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "notice": notice})
}

func (h *AdminHandler) UnassignAll(c *gin.Context) {
	result, err := h.orchestrator.UnassignAll(c.Request.Context(), domain.UserID(c.Param("id")))
	notice := services.UnassignAllNotice(result, err)
	if err != nil {
		h.respondNotice(c, err, notice)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "notice": notice})
}

type BulkAssignRequest struct {
	SubscriberIDs []domain.UserID `json:"subscriber_ids" binding:"required,min=1"`
	Confirm       bool            `json:"confirm"`
}

func (h *AdminHandler) BulkAssign(c *gin.Context) {
	var req BulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("subscriber_ids is required"))
		return
	}

	publishers, err := h.publisherIDs(c)
	if err != nil {
		h.respondNotice(c, err, services.BulkAssignNotice(ports.AssignResult{}, len(req.SubscriberIDs), err))
		return
	}

	result, err := h.orchestrator.BulkAssignMany(c.Request.Context(), req.SubscriberIDs, publishers, req.Confirm)
	notice := services.BulkAssignNotice(result, len(req.SubscriberIDs), err)
	if err != nil {
		h.respondNotice(c, err, notice)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "notice": notice})
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	snapshot, err := h.monitoring.Snapshot(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
