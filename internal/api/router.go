package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/api/admin"
	"github.com/liliang-cn/mindrag/internal/api/chat"
	"github.com/liliang-cn/mindrag/internal/api/middleware"
	"github.com/liliang-cn/mindrag/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
	ServiceName  string
	// RateLimiter may be nil to disable rate limiting
	RateLimiter *middleware.RateLimiter
	Metrics     http.Handler
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	adminService *service.AdminService,
	ingestService *service.IngestService,
	logger *zap.Logger,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	// Chat API (public, rate limited per client)
	chatHandler := chat.NewHandler(chatService, logger)
	chatGroup := r.Group("", middleware.RateLimit(cfg.RateLimiter))
	chatHandler.RegisterRoutes(chatGroup)

	// Admin API (requires API key)
	adminHandler := admin.NewHandler(adminService, ingestService)
	adminGroup := r.Group("/api/admin")
	adminGroup.Use(middleware.Auth(cfg.APIKey))
	adminHandler.RegisterRoutes(adminGroup)

	return r
}
