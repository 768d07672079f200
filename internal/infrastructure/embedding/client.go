package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

// ErrUnavailable 向量化服务不可用
var ErrUnavailable = errors.New("embedding service unavailable")

// OpenAI embeddings API 批量限制：每次最多 2048 个文本
const maxBatchSize = 2048

// Client Embedding API 客户端
// 对接 OpenAI 兼容的 /v1/embeddings 接口
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建 Embedding 客户端
func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Embedding.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		// 规范化 baseURL：移除末尾斜杠
		baseURL: strings.TrimSuffix(cfg.Embedding.BaseURL, "/"),
		apiKey:  cfg.Embedding.APIKey,
		model:   cfg.Embedding.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.NewModuleLogger("embedding", "client"),
	}
}

// buildEmbeddingURL 构建 Embedding API URL
// 支持多种输入格式，智能拼接 /v1/embeddings 路径
func buildEmbeddingURL(baseURL string) string {
	// 1. 如果已经包含完整路径 /v1/embeddings，直接使用
	if strings.Contains(baseURL, "/v1/embeddings") {
		return baseURL
	}

	// 2. 如果以 /v1 结尾，只追加 /embeddings
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL + "/embeddings"
	}

	// 3. 如果以 /v1/ 结尾，追加 embeddings
	if strings.HasSuffix(baseURL, "/v1/") {
		return baseURL + "embeddings"
	}

	// 4. 其他情况，追加完整的 /v1/embeddings
	return fmt.Sprintf("%s/v1/embeddings", baseURL)
}

// embeddingRequest Embedding 请求
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse Embedding 响应
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed 向量化单条文本
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化文本，结果顺序与输入一致
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	if len(texts) <= maxBatchSize {
		return c.embedBatch(ctx, texts)
	}

	// 超过单次限制时分批处理
	c.logger.Info("Splitting texts into batches",
		"total_texts", len(texts),
		"batch_limit", maxBatchSize,
	)

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchNum := (i / maxBatchSize) + 1
		vectors, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d: %w", batchNum, err)
		}

		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// embedBatch 处理单个批次，带重试
func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := retry.DoWithData(
		func() ([][]float32, error) {
			return c.doRequest(ctx, texts)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Embedding request failed, retrying",
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		c.logger.Error("Embedding request failed", "batch_size", len(texts), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return vectors, nil
}

// doRequest 发送一次嵌入请求
func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model: c.model,
		Input: texts,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := buildEmbeddingURL(c.baseURL)

	c.logger.Debug("Sending embedding request",
		"url", url,
		"batch_size", len(texts),
		"model", c.model,
		"api_key", maskAPIKey(c.apiKey),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(embResp.Data))
	}

	// 按 index 排序，保证结果顺序与输入一致
	vectors := make([][]float32, len(texts))
	for _, item := range embResp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index out of range: %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

// maskAPIKey API Key 脱敏，仅保留首尾 4 位
func maskAPIKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}
