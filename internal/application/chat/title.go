package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbchat/backend/internal/infrastructure/llm"
)

// titlePrompt 标题生成提示词
const titlePrompt = `为下面的对话生成一个简短标题，不超过 10 个字。
只输出标题本身，不要引号，不要解释。

用户的第一个问题：
%s`

// titleMaxRunes 标题长度上限
const titleMaxRunes = 30

// generateTitle 根据首轮提问生成会话标题，只生成一次
func (s *Service) generateTitle(ctx context.Context, conversationID, question string) {
	conv, err := s.convs.FindByID(conversationID)
	if err != nil || conv == nil {
		return
	}
	if conv.IsTitleGenerated {
		return
	}

	result := s.generator.Generate(ctx, &llm.Request{
		Prompt: fmt.Sprintf(titlePrompt, question),
		Meta:   llm.Meta{Task: llm.TaskTitleGeneration, Job: conv.ID, Source: "chat"},
	})

	title := NormalizeTitle(result.Text)
	if title == "" {
		return
	}

	conv.Title = title
	conv.IsTitleGenerated = true
	if err := s.convs.Save(conv); err != nil {
		s.logger.Warn("Failed to save generated title", "conversation_id", conv.ID, "error", err)
		return
	}

	s.logger.Info("Conversation title generated", "conversation_id", conv.ID, "title", title)
}

// NormalizeTitle 清洗模型输出的标题：取首行、去引号、截断
func NormalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if title == "" {
		return ""
	}

	// 只取第一行，模型偶尔会附带解释
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}

	title = strings.Trim(title, `"'“”‘’「」『』《》`)
	title = strings.TrimSuffix(title, "。")
	title = strings.TrimSpace(title)

	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	return title
}
