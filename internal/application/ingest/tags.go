package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbchat/backend/internal/domain/kb"
)

// autoTagPrompt 自动标签抽取提示词
const autoTagPrompt = `你是知识库管理助手。阅读下面的文档内容，给出最能概括主题的标签。
要求：
- 只输出一个 JSON 字符串数组，例如 ["合同","法务"]
- 不超过 10 个标签，每个标签尽量简短
- 不要输出任何解释或其他文字

文档内容：
%s`

// summaryPrompt 文档摘要提示词
const summaryPrompt = `你是知识库管理助手。为下面的文档内容写一段简洁的中文摘要，不超过 200 字。
只输出摘要正文，不要输出任何前缀或解释。

文档内容：
%s`

// BuildAutoTagPrompt 构建标签抽取提示词，超长内容按上限截断
func BuildAutoTagPrompt(text string, inputCap int) string {
	return fmt.Sprintf(autoTagPrompt, truncate(text, inputCap))
}

// BuildSummaryPrompt 构建摘要提示词，超长内容按上限截断
func BuildSummaryPrompt(text string, inputCap int) string {
	return fmt.Sprintf(summaryPrompt, truncate(text, inputCap))
}

// truncate 按字符数截断（按 rune 计数，避免截断多字节字符）
func truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// ParseTagResponse 从 LLM 输出中解析标签数组
// 模型输出可能夹带说明文字或代码块标记，取第一个完整的 JSON 数组；
// 解析失败返回空列表，不中断入库流程
func ParseTagResponse(raw string) []string {
	arrayText := extractFirstJSONArray(raw)
	if arrayText == "" {
		return nil
	}

	var tags []string
	if err := json.Unmarshal([]byte(arrayText), &tags); err != nil {
		return nil
	}

	return kb.NormalizeTags(tags)
}

// extractFirstJSONArray 提取文本中第一个平衡的 JSON 数组
func extractFirstJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		ch := raw[i]

		if escaped {
			escaped = false
			continue
		}

		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}

	return ""
}
