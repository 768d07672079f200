package llm

import "context"

// 引擎标识
const (
	DriverLocal  = "local"
	DriverGemini = "gemini"
)

// 任务类型：路由表按任务选择引擎
const (
	TaskChat            = "chat"
	TaskKBAnswer        = "kb_answer"
	TaskKBSummary       = "kb_summary"
	TaskKBAutoTag       = "kb_auto_tag"
	TaskTitleGeneration = "title_generation"
	TaskTrainingToKB    = "training_to_kb"
	TaskAnswerScoring   = "answer_scoring"
	TaskHighQuality     = "high_quality"
	TaskInvestorDemo    = "investor_demo"
)

// Meta 请求元信息，路由与日志使用
type Meta struct {
	// Task 任务类型，决定路由到哪个引擎
	Task string
	// Job 触发来源的业务标识（如文件 ID、会话 ID）
	Job string
	// Source 调用方模块名
	Source string
}

// Request 一次生成请求
type Request struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Meta         Meta
}

// Engine 文本生成引擎
type Engine interface {
	// Name 引擎标识（local/gemini）
	Name() string

	// Generate 生成文本，失败返回错误
	Generate(ctx context.Context, req *Request) (string, error)
}
