// @title 知识库问答服务 API
// @version 1.0
// @description 企业知识库问答后端：文件入库、检索增强问答、反馈晋升
// @host localhost:8090
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	applog "github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/singleton"
	"github.com/kbchat/backend/internal/wire"
)

func main() {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	// 初始化日志系统
	applog.Init(nil)

	// Wire 自动生成的初始化函数
	app, err := wire.InitializeApp()
	if err != nil {
		applog.GetLogger().Error("Failed to initialize application",
			"error", err,
		)
		os.Exit(1)
	}

	// 单例锁检查：尝试获取端口锁
	listener, err := singleton.CheckAndLock(app.HTTPPort())
	if err != nil {
		log.Fatalf("单例锁检查失败: %v", err)
	}
	if listener == nil {
		// 已有实例运行，直接退出
		log.Println("检测到已有实例在运行，当前进程退出")
		os.Exit(0)
	}
	// 关闭临时 listener，实际监听由 HTTP 服务器负责
	_ = listener.Close()

	// 启动所有服务
	if err := app.Start(); err != nil {
		applog.GetLogger().Error("Failed to start application",
			"error", err,
		)
		os.Exit(1)
	}

	// 优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	applog.GetLogger().Info("Shutting down application...")
	if err := app.Stop(); err != nil {
		applog.GetLogger().Error("Error during application shutdown",
			"error", err,
		)
	}
	applog.GetLogger().Info("Application stopped")
}
