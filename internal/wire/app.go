package wire

import (
	"context"
	"database/sql"
	"time"

	"log/slog"

	appChat "github.com/kbchat/backend/internal/application/chat"
	"github.com/kbchat/backend/internal/application/ingest"
	"github.com/kbchat/backend/internal/infrastructure/config"
	applog "github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/vector"
	"github.com/kbchat/backend/internal/infrastructure/watcher"
	"github.com/kbchat/backend/internal/infrastructure/websocket"
	"github.com/kbchat/backend/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer    *interfaces.HTTPServer
	cfg           *config.Config
	wsHub         *websocket.Hub
	ingestWorker  *ingest.Worker
	ingestService *ingest.Service
	chatService   *appChat.Service
	vectors       *vector.Store
	dropWatcher   *watcher.DropWatcher
	db            *sql.DB
	logger        *slog.Logger
}

// NewApp 创建应用实例
func NewApp(
	cfg *config.Config,
	httpServer *interfaces.HTTPServer,
	wsHub *websocket.Hub,
	ingestWorker *ingest.Worker,
	ingestService *ingest.Service,
	chatService *appChat.Service,
	vectors *vector.Store,
	db *sql.DB,
) *App {
	logger := applog.NewModuleLogger("app", "main")

	// 投递目录监听：落进目录的文件直接走入库流水线
	dropWatcher, err := watcher.NewDropWatcher(cfg, ingestService.IngestFromPath)
	if err != nil {
		logger.Error("Failed to create drop watcher", "error", err)
	}

	return &App{
		HTTPServer:    httpServer,
		cfg:           cfg,
		wsHub:         wsHub,
		ingestWorker:  ingestWorker,
		ingestService: ingestService,
		chatService:   chatService,
		vectors:       vectors,
		dropWatcher:   dropWatcher,
		db:            db,
		logger:        logger,
	}
}

// HTTPPort 返回配置的监听端口
func (a *App) HTTPPort() string {
	return a.cfg.Server.HTTPPort
}

// Start 启动所有服务
func (a *App) Start() error {
	a.logger.Info("Starting knowledge base chat service")

	// 确保向量库集合存在；向量库暂不可用时照常启动，检索按降级处理
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.vectors.EnsureCollections(ctx); err != nil {
		a.logger.Error("Failed to ensure vector collections", "error", err)
	}

	// 启动 WebSocket Hub
	a.wsHub.Start()

	// 启动入库流水线 worker
	if err := a.ingestWorker.Start(); err != nil {
		a.logger.Error("Failed to start ingest worker", "error", err)
	}

	// 启动投递目录监听（未配置时为 nil）
	if a.dropWatcher != nil {
		if err := a.dropWatcher.Start(); err != nil {
			a.logger.Error("Failed to start drop watcher", "error", err)
		}
	}

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Start(); err != nil {
			a.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	a.logger.Info("Knowledge base chat service started", "port", a.cfg.Server.HTTPPort)

	return nil
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping knowledge base chat service")

	if a.dropWatcher != nil {
		a.dropWatcher.Stop()
	}

	// 等 worker 跑完手上的任务
	a.ingestWorker.Stop()

	// 等后台标题生成等任务收尾
	a.chatService.Wait()

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server", "error", err)
	}

	if err := a.vectors.Close(); err != nil {
		a.logger.Error("Failed to close vector store", "error", err)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database", "error", err)
			return err
		}
	}

	a.logger.Info("Knowledge base chat service stopped")

	return nil
}
