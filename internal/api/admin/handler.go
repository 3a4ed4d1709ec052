package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/api/apierr"
	"github.com/liliang-cn/mindrag/internal/service"
)

// Handler handles admin API requests
type Handler struct {
	adminService  *service.AdminService
	ingestService *service.IngestService
}

// NewHandler creates a new admin handler
func NewHandler(adminService *service.AdminService, ingestService *service.IngestService) *Handler {
	return &Handler{
		adminService:  adminService,
		ingestService: ingestService,
	}
}

// RegisterRoutes registers admin routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
	}

	domains := r.Group("/domains")
	{
		domains.GET("", h.ListDomains)
		domains.POST("/:id/documents", h.UploadDocument)
	}

	r.GET("/crisis-events", h.ListCrisisEvents)
	r.GET("/stats", h.GetStats)
}

// Session handlers

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.adminService.ListSessions(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.adminService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

// Domain handlers

func (h *Handler) ListDomains(c *gin.Context) {
	domains, err := h.adminService.ListDomains(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

func (h *Handler) UploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		apierr.AbortKind(c, http.StatusBadRequest, apierr.InvalidRequest)
		return
	}

	report, err := h.ingestService.IngestUpload(c.Request.Context(), c.Param("id"), file)
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, report)
}

// Crisis audit handlers

func (h *Handler) ListCrisisEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	events, err := h.adminService.ListCrisisEvents(c.Request.Context(), limit)
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Stats handler

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.adminService.GetStats(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
