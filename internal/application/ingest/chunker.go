package ingest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 在包初始化时设置离线加载器，避免运行时联网下载编码表
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encodingInstance *tiktoken.Tiktoken
	encodingOnce     sync.Once
	encodingErr      error
)

// getEncoding 获取 cl100k_base 编码单例
func getEncoding() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encodingInstance, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encodingInstance, encodingErr
}

// Chunker 按 token 预算切分文本，相邻切片保留重叠
type Chunker struct {
	chunkTokens   int
	overlapTokens int
}

// NewChunker 创建切分器
func NewChunker(chunkTokens, overlapTokens int) *Chunker {
	if chunkTokens <= 0 {
		chunkTokens = 400
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = 0
	}

	return &Chunker{
		chunkTokens:   chunkTokens,
		overlapTokens: overlapTokens,
	}
}

// Split 切分文本，返回按原文顺序排列的片段
func (c *Chunker) Split(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	enc, err := getEncoding()
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding: %w", err)
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= c.chunkTokens {
		return []string{text}, nil
	}

	step := c.chunkTokens - c.overlapTokens
	chunks := make([]string, 0, (len(tokens)+step-1)/step)

	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		piece := strings.TrimSpace(enc.Decode(tokens[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// CountTokens 计算文本的 token 数
func (c *Chunker) CountTokens(text string) int {
	enc, err := getEncoding()
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
