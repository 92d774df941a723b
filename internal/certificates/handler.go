package certificates

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"certifica/issuance-backend/internal/auth"
	"certifica/issuance-backend/internal/exports"
	apperrors "certifica/issuance-backend/pkg/errors"
)

// Handler handles HTTP requests for certificate operations
type Handler struct {
	service *Service
	logger  *zap.Logger
	tempDir string
}

// NewHandler creates a new certificates handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		tempDir: os.TempDir(),
	}
}

// RegisterRoutes registers the authenticated certificate routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	certificates := router.Group("/certificates")
	{
		certificates.POST("/batches", h.generateBatch)
		certificates.POST("", h.issueSingle)
		certificates.GET("/:id", h.getCertificate)
		certificates.PATCH("/:id/fields", h.updateFields)
		certificates.PUT("/:id/display-name", h.setDisplayName)
		certificates.PUT("/:id/signatures", h.reassignSignatures)
		certificates.POST("/:id/revoke", h.revoke)
		certificates.POST("/:id/regenerate", h.regenerate)
	}

	lots := router.Group("/lots")
	{
		lots.POST("/:id/regenerate", h.regenerateLot)
		lots.POST("/:id/regeneration-jobs", h.queueRegeneration)
		lots.GET("/:id/archive", h.downloadArchive)
		lots.GET("/:id/manifest", h.exportManifest)
	}

	router.GET("/regeneration-jobs/:id", h.getJob)
}

// RegisterPublicRoutes registers routes that need no token
func (h *Handler) RegisterPublicRoutes(router *gin.RouterGroup) {
	router.GET("/verify/:code", h.verify)
}

// =====================================================
// Issuance Endpoints
// =====================================================

// generateBatch handles POST /api/v1/certificates/batches
func (h *Handler) generateBatch(c *gin.Context) {
	companyID, ok := h.companyID(c)
	if !ok {
		return
	}
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CompanyID = companyID

	result, err := h.service.GenerateBatch(c.Request.Context(), req)
	if err != nil {
		var rowErr *RowError
		if errors.As(err, &rowErr) && result != nil {
			status, code := statusFor(err)
			c.JSON(status, gin.H{
				"error":  err.Error(),
				"code":   code,
				"row":    rowErr.Row,
				"state":  rowErr.State,
				"lot":    result.Lot,
				"issued": len(result.Certificates),
			})
			return
		}
		h.fail(c, "Failed to generate batch", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// issueSingle handles POST /api/v1/certificates
func (h *Handler) issueSingle(c *gin.Context) {
	companyID, ok := h.companyID(c)
	if !ok {
		return
	}
	var req SingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CompanyID = companyID

	cert, err := h.service.IssueSingle(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to issue certificate", err)
		return
	}

	c.JSON(http.StatusCreated, cert)
}

// =====================================================
// Certificate Endpoints
// =====================================================

// getCertificate handles GET /api/v1/certificates/:id
func (h *Handler) getCertificate(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	cert, err := h.service.GetCertificate(c.Request.Context(), companyID, id)
	if err != nil {
		h.fail(c, "Failed to get certificate", err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// updateFields handles PATCH /api/v1/certificates/:id/fields
func (h *Handler) updateFields(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}
	var req struct {
		Fields map[string]string `json:"fields" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.service.UpdateFields(c.Request.Context(), companyID, id, req.Fields)
	if err != nil {
		h.fail(c, "Failed to update certificate fields", err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// setDisplayName handles PUT /api/v1/certificates/:id/display-name
func (h *Handler) setDisplayName(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.service.SetDisplayNameOverride(c.Request.Context(), companyID, id, req.DisplayName)
	if err != nil {
		h.fail(c, "Failed to set display name", err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// reassignSignatures handles PUT /api/v1/certificates/:id/signatures
func (h *Handler) reassignSignatures(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}
	var req struct {
		SignatureIDs []uuid.UUID `json:"signature_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.service.ReassignSignatures(c.Request.Context(), companyID, id, req.SignatureIDs)
	if err != nil {
		h.fail(c, "Failed to reassign signatures", err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// revoke handles POST /api/v1/certificates/:id/revoke
func (h *Handler) revoke(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), companyID, id); err != nil {
		h.fail(c, "Failed to revoke certificate", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "certificate revoked"})
}

// regenerate handles POST /api/v1/certificates/:id/regenerate
func (h *Handler) regenerate(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	cert, err := h.service.RegenerateCertificate(c.Request.Context(), companyID, id)
	if err != nil {
		h.fail(c, "Failed to regenerate certificate", err)
		return
	}

	c.JSON(http.StatusOK, cert)
}

// =====================================================
// Lot Endpoints
// =====================================================

// regenerateLot handles POST /api/v1/lots/:id/regenerate
func (h *Handler) regenerateLot(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	summary, err := h.service.RegenerateLot(c.Request.Context(), companyID, id)
	if err != nil {
		h.fail(c, "Failed to regenerate lot", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// queueRegeneration handles POST /api/v1/lots/:id/regeneration-jobs
func (h *Handler) queueRegeneration(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	job, err := h.service.QueueLotRegeneration(c.Request.Context(), companyID, id)
	if err != nil {
		h.fail(c, "Failed to queue lot regeneration", err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// getJob handles GET /api/v1/regeneration-jobs/:id
func (h *Handler) getJob(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), companyID, id)
	if err != nil {
		h.fail(c, "Failed to get regeneration job", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// downloadArchive handles GET /api/v1/lots/:id/archive
func (h *Handler) downloadArchive(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}

	dest := filepath.Join(h.tempDir, fmt.Sprintf("lot-%s-%s.zip", id, uuid.NewString()))
	defer os.Remove(dest)

	if _, err := h.service.BuildLotArchive(c.Request.Context(), companyID, id, dest); err != nil {
		h.fail(c, "Failed to build lot archive", err)
		return
	}

	c.FileAttachment(dest, fmt.Sprintf("lot-%s.zip", id))
}

// exportManifest handles GET /api/v1/lots/:id/manifest
func (h *Handler) exportManifest(c *gin.Context) {
	companyID, id, ok := h.scopedID(c)
	if !ok {
		return
	}
	format, err := exports.ParseFormat(c.Query("format"))
	if err != nil {
		h.fail(c, "Invalid manifest format", err)
		return
	}

	// rendered into memory first so a failure can still produce a JSON error
	var buf bytes.Buffer
	if err := h.service.ExportLotManifest(c.Request.Context(), companyID, id, format, &buf); err != nil {
		h.fail(c, "Failed to export lot manifest", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="lot-%s.%s"`, id, format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// =====================================================
// Public Endpoints
// =====================================================

// verify handles GET /verify/:code
func (h *Handler) verify(c *gin.Context) {
	verification, err := h.service.Verify(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "Failed to verify certificate", err)
		return
	}

	c.JSON(http.StatusOK, verification)
}

// =====================================================
// Helper Methods
// =====================================================

func (h *Handler) companyID(c *gin.Context) (int64, bool) {
	companyID, ok := auth.CompanyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing company"})
		return 0, false
	}
	return companyID, true
}

func (h *Handler) scopedID(c *gin.Context) (int64, uuid.UUID, bool) {
	companyID, ok := h.companyID(c)
	if !ok {
		return 0, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, uuid.Nil, false
	}
	return companyID, id, true
}

// fail writes err as JSON with a status derived from its code. Server-side
// failures are logged.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func statusFor(err error) (int, apperrors.Code) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound, code
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest, code
	case apperrors.CodeTemplateMissing, apperrors.CodeTemplateInvalid:
		return http.StatusUnprocessableEntity, code
	case apperrors.CodeCodeCollision:
		return http.StatusConflict, code
	}
	return http.StatusInternalServerError, code
}
