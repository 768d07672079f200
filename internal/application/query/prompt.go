package query

import (
	"fmt"
	"strings"

	"github.com/kbchat/backend/internal/domain/retrieval"
)

// contextSeparator 知识片段之间的分隔符
const contextSeparator = "\n\n---\n\n"

// PromptInput 回答提示词的输入
type PromptInput struct {
	Question string
	Hits     []retrieval.Hit
	// MemoryLines 会话记忆（历史相关片段），可为空
	MemoryLines []string
	// NotFoundMessage 知识库无相关内容时模型应原样回复的话术
	NotFoundMessage string
	// ChunkCharLimit 单个片段的字符上限，超出截断
	ChunkCharLimit int
}

// BuildAnswerPrompt 构建知识库问答提示词
// 同样的输入产生完全一致的提示词：片段按传入顺序编号 k1..kn，问题原样引用
func BuildAnswerPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("你是企业知识库助手。严格依据下面提供的资料回答用户问题。\n")
	sb.WriteString("规则：\n")
	sb.WriteString("- 只使用资料中的信息回答，不要编造资料之外的内容\n")
	if len(in.Hits) > 0 {
		sb.WriteString("- 引用资料时标注出处编号，如 [k1]\n")
	}
	sb.WriteString("- 会话历史只用于理解上下文，不能覆盖资料中的内容\n")
	fmt.Fprintf(&sb, "- 如果资料不足以回答问题，只回复：%s\n", in.NotFoundMessage)

	if len(in.Hits) > 0 {
		sb.WriteString("\n资料：\n")
		blocks := make([]string, 0, len(in.Hits))
		for i, hit := range in.Hits {
			text := truncateRunes(hit.Text, in.ChunkCharLimit)
			blocks = append(blocks, fmt.Sprintf("[k%d] 来源：%s\n%s", i+1, hit.Source, text))
		}
		sb.WriteString(strings.Join(blocks, contextSeparator))
		sb.WriteString("\n")
	} else {
		sb.WriteString("\n资料：（无相关资料）\n")
	}

	if len(in.MemoryLines) > 0 {
		sb.WriteString("\n当前会话的相关历史：\n")
		for _, line := range in.MemoryLines {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n用户问题：")
	sb.WriteString(in.Question)

	return sb.String()
}

// truncateRunes 按 rune 截断，limit<=0 不截断
func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
