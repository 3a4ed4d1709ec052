package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/api/apierr"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/service"
	"go.uber.org/zap"
)

// Handler handles public chat API requests
type Handler struct {
	chatService *service.ChatService
	logger      *zap.Logger
}

// NewHandler creates a new chat handler
func NewHandler(chatService *service.ChatService, logger *zap.Logger) *Handler {
	return &Handler{chatService: chatService, logger: logger}
}

// RegisterRoutes registers chat routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/chat", h.Chat)
}

// Chat handles a chat message
func (h *Handler) Chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.AbortKind(c, http.StatusBadRequest, apierr.InvalidRequest)
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), &req)
	if err != nil {
		status, kind := apierr.Classify(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("chat request failed", zap.String("kind", kind), zap.Error(err))
		}
		apierr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
