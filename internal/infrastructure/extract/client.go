package extract

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

// ErrUnavailable 抽取服务不可用
var ErrUnavailable = errors.New("extract service unavailable")

// Chunk 抽取出的一个文本片段
type Chunk struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Result 文档抽取结果
type Result struct {
	Chunks []Chunk  `json:"chunks"`
	Tags   []string `json:"tags"`
}

// Client 文档抽取服务客户端
// 调用外部抽取服务把 PDF/DOCX 等文件解析为文本片段
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient 创建抽取客户端
func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Extract.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.Extract.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.NewModuleLogger("extract", "client"),
	}
}

// extractRequest 抽取请求
type extractRequest struct {
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
}

// Extract 抽取文件内容，返回文本片段与服务侧建议标签
func (c *Client) Extract(ctx context.Context, filePath, mimeType string) (*Result, error) {
	result, err := retry.DoWithData(
		func() (*Result, error) {
			return c.doExtract(ctx, filePath, mimeType)
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Extract request failed, retrying",
				"attempt", n+1,
				"file_path", filePath,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// doExtract 发送一次抽取请求
func (c *Client) doExtract(ctx context.Context, filePath, mimeType string) (*Result, error) {
	jsonData, err := json.Marshal(extractRequest{
		FilePath: filePath,
		MimeType: mimeType,
	})
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := c.baseURL + "/extract"

	c.logger.Debug("Sending extract request", "url", url, "file_path", filePath, "mime_type", mimeType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 错误响应体原样保留，入库时作为失败原因展示
		err := fmt.Errorf("extract service returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, retry.Unrecoverable(err)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Info("Extract completed", "file_path", filePath, "chunks", len(result.Chunks))

	return &result, nil
}
