package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

// taskRoutes 任务到引擎的静态路由表
// 表中没有的任务走配置的默认引擎
var taskRoutes = map[string]string{
	TaskChat:            DriverLocal,
	TaskKBAnswer:        DriverLocal,
	TaskKBSummary:       DriverLocal,
	TaskKBAutoTag:       DriverLocal,
	TaskTitleGeneration: DriverLocal,
	TaskTrainingToKB:    DriverLocal,
	TaskAnswerScoring:   DriverLocal,
	TaskHighQuality:     DriverGemini,
	TaskInvestorDemo:    DriverGemini,
}

// Result 一次路由生成的结果
// Text 为空字符串表示两个引擎都失败了，调用方自行兜底
type Result struct {
	Text     string
	Driver   string
	FellBack bool
	Duration time.Duration
}

// Router 按任务类型路由请求，本地引擎失败时降级到 Gemini
type Router struct {
	local         Engine
	gemini        Engine
	defaultDriver string
	logger        *slog.Logger
}

// NewRouter 创建路由器
func NewRouter(cfg *config.Config, local *OllamaEngine, gemini *GeminiEngine) *Router {
	return NewRouterWithEngines(cfg.LLM.DefaultDriver, local, gemini)
}

// NewRouterWithEngines 用任意引擎组装路由器，测试使用
func NewRouterWithEngines(defaultDriver string, local, gemini Engine) *Router {
	if defaultDriver == "" {
		defaultDriver = DriverLocal
	}

	return &Router{
		local:         local,
		gemini:        gemini,
		defaultDriver: defaultDriver,
		logger:        log.NewModuleLogger("llm", "router"),
	}
}

// resolveDriver 按任务类型选择引擎
func (r *Router) resolveDriver(task string) string {
	if driver, ok := taskRoutes[task]; ok {
		return driver
	}
	return r.defaultDriver
}

// engineFor 按标识取引擎
func (r *Router) engineFor(driver string) Engine {
	if driver == DriverGemini {
		return r.gemini
	}
	return r.local
}

// Generate 路由并执行一次生成
// 本地引擎失败时降级到 Gemini 重试一次；两者都失败返回空文本，不返回错误
func (r *Router) Generate(ctx context.Context, req *Request) *Result {
	start := time.Now()
	driver := r.resolveDriver(req.Meta.Task)
	engine := r.engineFor(driver)

	text, err := engine.Generate(ctx, req)
	if err == nil {
		return &Result{
			Text:     text,
			Driver:   driver,
			Duration: time.Since(start),
		}
	}

	r.logger.Warn("Engine failed",
		"driver", driver,
		"task", req.Meta.Task,
		"job", req.Meta.Job,
		"error", err,
	)

	// 只有本地引擎失败才降级，Gemini 失败不再回切
	if driver != DriverLocal {
		return &Result{Driver: driver, Duration: time.Since(start)}
	}

	text, fallbackErr := r.gemini.Generate(ctx, req)
	if fallbackErr != nil {
		r.logger.Error("Fallback engine failed",
			"task", req.Meta.Task,
			"job", req.Meta.Job,
			"local_error", err,
			"gemini_error", fallbackErr,
		)
		return &Result{Driver: DriverGemini, FellBack: true, Duration: time.Since(start)}
	}

	r.logger.Info("Request served by fallback engine",
		"task", req.Meta.Task,
		"job", req.Meta.Job,
	)

	return &Result{
		Text:     text,
		Driver:   DriverGemini,
		FellBack: true,
		Duration: time.Since(start),
	}
}
