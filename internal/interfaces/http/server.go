package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/interfaces/http/handler"
	"github.com/kbchat/backend/internal/interfaces/http/middleware"

	_ "github.com/kbchat/backend/docs" // Swagger docs
)

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器并注册全部路由
func NewServer(
	cfg *config.Config,
	kbHandler *handler.KBHandler,
	chatHandler *handler.ChatHandler,
	trainHandler *handler.TrainHandler,
	wsHandler *handler.WSHandler,
) *HTTPServer {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog())
	router.Use(middleware.EnsureUTF8Body())

	logger := log.NewModuleLogger("http", "server")

	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(cfg))
	{
		// 知识库文件
		kb := api.Group("/kb")
		{
			kb.POST("/files", kbHandler.Upload)
			kb.GET("/files", kbHandler.List)
			kb.GET("/files/:id", kbHandler.Get)
			kb.DELETE("/files/:id", kbHandler.Delete)
			kb.POST("/files/:id/confirm", kbHandler.Confirm)
			kb.POST("/files/:id/reingest", kbHandler.Reingest)
			kb.GET("/files/:id/chunks", kbHandler.Chunks)
			kb.DELETE("/chunks/:chunkId", kbHandler.DeleteChunk)
			kb.GET("/queue/stats", kbHandler.QueueStats)
			kb.POST("/queue/retry", kbHandler.RetryFailed)
		}

		// 会话与问答
		api.POST("/conversations", chatHandler.CreateConversation)
		api.GET("/conversations", chatHandler.ListConversations)
		api.GET("/conversations/:id", chatHandler.GetConversation)
		api.DELETE("/conversations/:id", chatHandler.DeleteConversation)
		api.GET("/conversations/:id/messages", chatHandler.Messages)
		api.POST("/conversations/:id/messages", chatHandler.SendMessage)
		api.POST("/conversations/:id/summary", chatHandler.Summarize)
		api.POST("/messages/:messageId/rate", chatHandler.RateMessage)

		// 反馈与晋升
		train := api.Group("/train")
		{
			train.POST("/feedback", trainHandler.SubmitFeedback)
			train.GET("/feedback", trainHandler.ListFeedback)
			train.POST("/evaluate", trainHandler.EvaluateMessage)
		}

		// 文件入库进度推送
		api.GET("/ws", wsHandler.Serve)
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &HTTPServer{
		router:   router,
		httpPort: cfg.Server.HTTPPort,
		logger:   logger,
	}
}

// Start 启动服务器
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:    s.httpPort,
		Handler: s.router,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
