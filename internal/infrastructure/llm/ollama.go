package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

// OllamaEngine 本地 Ollama 引擎，走 /api/chat 接口
type OllamaEngine struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Engine = (*OllamaEngine)(nil)

// NewOllamaEngine 创建 Ollama 引擎
func NewOllamaEngine(cfg *config.Config) *OllamaEngine {
	timeout := cfg.LLM.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OllamaEngine{
		baseURL: strings.TrimSuffix(cfg.LLM.OllamaBaseURL, "/"),
		model:   cfg.LLM.OllamaModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.NewModuleLogger("llm", "ollama"),
	}
}

// Name 引擎标识
func (e *OllamaEngine) Name() string {
	return DriverLocal
}

// ollamaChatRequest Ollama /api/chat 请求
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatResponse Ollama /api/chat 响应（非流式）
type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// Generate 调用 Ollama 生成文本
func (e *OllamaEngine) Generate(ctx context.Context, req *Request) (string, error) {
	messages := make([]ollamaChatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.Prompt})

	body := ollamaChatRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   false,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = map[string]any{}
		if req.Temperature > 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + "/api/chat"

	e.logger.Debug("Sending ollama request",
		"url", url,
		"model", e.model,
		"task", req.Meta.Task,
		"job", req.Meta.Job,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}
