package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/infrastructure/llm"
)

// ErrNothingToSummarize 会话还没有消息
var ErrNothingToSummarize = errors.New("conversation has no messages to summarize")

const (
	// summaryTurns 参与摘要的最近消息条数
	summaryTurns = 20
	// summaryMessageCap 单条消息进入摘要提示词的字符上限
	summaryMessageCap = 2000
)

// conversationSummaryPrompt 会话摘要提示词
const conversationSummaryPrompt = `总结下面这段对话。先用一段话概括对话内容，再列出 3 个要点。
只输出总结本身，不要解释。

对话记录：
%s`

// Summarize 生成会话摘要并保存到会话上
func (s *Service) Summarize(ctx context.Context, conversationID, ownerKey string) (string, error) {
	conv, err := s.GetConversation(conversationID, ownerKey)
	if err != nil {
		return "", err
	}

	messages, err := s.messages.FindRecent(conv.ID, summaryTurns)
	if err != nil {
		return "", fmt.Errorf("failed to load messages: %w", err)
	}
	if len(messages) == 0 {
		return "", ErrNothingToSummarize
	}

	result := s.generator.Generate(ctx, &llm.Request{
		Prompt: fmt.Sprintf(conversationSummaryPrompt, renderTranscript(messages)),
		Meta:   llm.Meta{Task: llm.TaskKBSummary, Job: conv.ID, Source: "chat"},
	})

	summary := strings.TrimSpace(result.Text)
	if summary == "" {
		return "", errors.New("summary generation produced no output")
	}

	conv.Summary = summary
	if err := s.convs.Save(conv); err != nil {
		return "", fmt.Errorf("failed to save summary: %w", err)
	}

	s.logger.Info("Conversation summarized", "conversation_id", conv.ID, "messages", len(messages))
	return summary, nil
}

// renderTranscript 把消息渲染为对话记录文本，单条超长截断
func renderTranscript(messages []*domainChat.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		role := "用户"
		if msg.Role == domainChat.RoleAssistant {
			role = "助手"
		}

		content := msg.Content
		if runes := []rune(content); len(runes) > summaryMessageCap {
			content = string(runes[:summaryMessageCap])
		}

		fmt.Fprintf(&sb, "%s：%s\n", role, content)
	}
	return sb.String()
}
