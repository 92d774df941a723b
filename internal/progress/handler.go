package progress

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"certifica/issuance-backend/internal/auth"
)

// Handler exposes the progress stream over HTTP.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates a new progress handler
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// RegisterRoutes registers progress routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/progress/ws", h.stream)
}

// stream handles GET /api/v1/progress/ws
func (h *Handler) stream(c *gin.Context) {
	companyID, ok := auth.CompanyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing company"})
		return
	}

	if _, err := h.manager.HandleConnection(c.Writer, c.Request, companyID); err != nil {
		h.logger.Error("Failed to open progress stream", zap.Error(err), zap.Int64("company_id", companyID))
	}
}
