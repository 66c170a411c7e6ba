package http

import (
	"net/http"

	"audiocast/internal/infrastructure/backup"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BackupHandler exposes permission matrix backups to the console.
type BackupHandler struct {
	snapshotter *backup.Snapshotter
	logger      *zap.SugaredLogger
}

func NewBackupHandler(snapshotter *backup.Snapshotter, logger *zap.SugaredLogger) *BackupHandler {
	return &BackupHandler{
		snapshotter: snapshotter,
		logger:      logger,
	}
}

// SetupRoutes mounts the backup routes under router, which must already
// require an admin token.
func (h *BackupHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/admin/backups")
	{
		api.GET("", h.List)
		api.POST("", h.Create)
		api.POST("/:name/restore", h.Restore)
	}
}

func (h *BackupHandler) List(c *gin.Context) {
	backups, err := h.snapshotter.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (h *BackupHandler) Create(c *gin.Context) {
	name, err := h.snapshotter.Snapshot(c.Request.Context(), "manual")
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

// Restore accepts a backup name or "latest".
func (h *BackupHandler) Restore(c *gin.Context) {
	result, err := h.snapshotter.Restore(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.Error(err)
		return
	}
	h.logger.Infow("backup restored from console", "backup_name", c.Param("name"), "user_id", callerID(c))
	c.JSON(http.StatusOK, gin.H{"result": result})
}
