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

// GeminiEngine Google Gemini 引擎，走 generateContent 接口
type GeminiEngine struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Engine = (*GeminiEngine)(nil)

// NewGeminiEngine 创建 Gemini 引擎
func NewGeminiEngine(cfg *config.Config) *GeminiEngine {
	timeout := cfg.LLM.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	endpoint := cfg.LLM.GeminiEndpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}

	return &GeminiEngine{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   cfg.LLM.GeminiAPIKey,
		model:    cfg.LLM.GeminiModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.NewModuleLogger("llm", "gemini"),
	}
}

// Name 引擎标识
func (e *GeminiEngine) Name() string {
	return DriverGemini
}

// geminiRequest generateContent 请求
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// geminiResponse generateContent 响应
type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Generate 调用 Gemini 生成文本
func (e *GeminiEngine) Generate(ctx context.Context, req *Request) (string, error) {
	if e.apiKey == "" {
		return "", fmt.Errorf("gemini api key not configured")
	}

	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		cfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			temp := req.Temperature
			cfg.Temperature = &temp
		}
		body.GenerationConfig = cfg
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", e.endpoint, e.model)

	e.logger.Debug("Sending gemini request",
		"model", e.model,
		"task", req.Meta.Task,
		"job", req.Meta.Job,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp geminiResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	return strings.TrimSpace(sb.String()), nil
}
