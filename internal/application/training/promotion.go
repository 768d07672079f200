package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

// 晋升来源标识，写进向量库 payload 的 source 字段
const (
	SourceManual = "train_manual"
	SourceAuto   = "train_auto"
)

// ErrNotAssistantMessage 只有助手消息可以晋升
var ErrNotAssistantMessage = errors.New("only assistant messages can be promoted")

// Generator 文本生成器
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) *llm.Result
}

// KnowledgeWriter 把文本写入知识库
type KnowledgeWriter interface {
	CreateFromText(ctx context.Context, title, text, source string, tags []string) (*kb.KnowledgeFile, error)
}

// Service 评分与晋升服务
type Service struct {
	cfg       *config.Config
	generator Generator
	messages  domainChat.MessageRepository
	feedbacks domainChat.FeedbackRepository
	knowledge KnowledgeWriter
	logger    *slog.Logger
}

// NewService 创建评分与晋升服务
func NewService(
	cfg *config.Config,
	generator Generator,
	messages domainChat.MessageRepository,
	feedbacks domainChat.FeedbackRepository,
	knowledge KnowledgeWriter,
) *Service {
	return &Service{
		cfg:       cfg,
		generator: generator,
		messages:  messages,
		feedbacks: feedbacks,
		knowledge: knowledge,
		logger:    log.NewModuleLogger("training", "service"),
	}
}

// ShouldPromote 晋升判定
// manual 为 nil 表示没有人工评价；有人工评价时以人工为准，自动分不参与
func ShouldPromote(manual *string, auto int, autoBar int) bool {
	if manual != nil {
		return *manual == "good"
	}
	return auto >= autoBar
}

// EvaluateMessage 评估一条助手消息并按规则晋升
// manual 传 "good"/"bad" 或 nil；返回是否发生了晋升
func (s *Service) EvaluateMessage(ctx context.Context, msg *domainChat.Message, manual *string) (bool, error) {
	if msg.Role != domainChat.RoleAssistant {
		return false, ErrNotAssistantMessage
	}

	question := s.findQuestion(msg)

	auto := 0
	if manual == nil {
		auto = s.ScoreAnswer(ctx, question, msg.Content).Score
	}

	if !ShouldPromote(manual, auto, s.cfg.Training.AutoScoreBar) {
		return false, nil
	}

	provenance := "auto"
	if manual != nil {
		provenance = "manual"
	}
	return s.PromoteMessage(ctx, msg, provenance)
}

// PromoteMessage 把一条助手消息沉淀进知识库
// is_training 标记在写入前抢占，保证同一条消息只晋升一次
func (s *Service) PromoteMessage(ctx context.Context, msg *domainChat.Message, provenance string) (bool, error) {
	if msg.Role != domainChat.RoleAssistant {
		return false, ErrNotAssistantMessage
	}

	claimed, err := s.messages.MarkTraining(msg.ID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message as training: %w", err)
	}
	if !claimed {
		s.logger.Info("Message already promoted, skipping", "message_id", msg.ID)
		return false, nil
	}

	question := s.findQuestion(msg)
	text := s.rewriteForKB(ctx, question, msg.Content)

	source := SourceAuto
	if provenance == "manual" || provenance == "manual_rate" {
		source = SourceManual
	}

	file, err := s.knowledge.CreateFromText(ctx, promotionTitle(question), text, source, []string{"training", provenance})
	if err != nil {
		// 写入失败只记录，不让父请求失败；标记已占用，避免反复重试产生重复内容
		s.logger.Error("Failed to write promoted message to knowledge base", "message_id", msg.ID, "error", err)
		return false, nil
	}

	s.logger.Info("Message promoted to knowledge base",
		"message_id", msg.ID,
		"file_id", file.ID,
		"provenance", provenance,
	)
	return true, nil
}

// SubmitFeedback 提交一条 0-10 数值反馈
// 反馈记录总是落库；达到阈值时把问答对写入知识库，返回是否写入
func (s *Service) SubmitFeedback(ctx context.Context, question, answer string, score int, meta map[string]any) (bool, error) {
	if score < 0 || score > 10 {
		return false, fmt.Errorf("feedback score must be between 0 and 10, got %d", score)
	}

	fb := &domainChat.Feedback{
		Question: question,
		Answer:   answer,
		Score:    score,
		Meta:     meta,
	}
	if err := s.feedbacks.Save(fb); err != nil {
		return false, fmt.Errorf("failed to save feedback: %w", err)
	}

	if score < s.cfg.Training.FeedbackThreshold {
		return false, nil
	}

	text := fmt.Sprintf("Q: %s\nA: %s", question, answer)
	file, err := s.knowledge.CreateFromText(ctx, "AutoTrain - user_feedback", text, SourceAuto, []string{"training", "auto"})
	if err != nil {
		s.logger.Error("Failed to write feedback to knowledge base", "feedback_id", fb.ID, "error", err)
		return false, nil
	}

	s.logger.Info("Feedback promoted to knowledge base", "feedback_id", fb.ID, "file_id", file.ID, "score", score)
	return true, nil
}

// ListFeedback 分页查询反馈记录
func (s *Service) ListFeedback(limit, offset int) ([]*domainChat.Feedback, error) {
	return s.feedbacks.FindAll(limit, offset)
}

// FindMessage 查找消息，不存在返回 (nil, nil)
func (s *Service) FindMessage(id string) (*domainChat.Message, error) {
	return s.messages.FindByID(id)
}

// rewriteForKB 把问答对改写为适合入库的知识条目，改写失败退回原始 Q/A 形式
func (s *Service) rewriteForKB(ctx context.Context, question, answer string) string {
	fallback := fmt.Sprintf("Q: %s\nA: %s", question, answer)
	if question == "" {
		fallback = answer
	}

	result := s.generator.Generate(ctx, &llm.Request{
		Prompt: fmt.Sprintf(trainingToKBPrompt, question, answer),
		Meta:   llm.Meta{Task: llm.TaskTrainingToKB, Source: "training"},
	})

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return fallback
	}
	return text
}

// trainingToKBPrompt 问答改写提示词
const trainingToKBPrompt = `把下面的问答整理成一段可以直接放进知识库的陈述性文字。
保留全部事实，去掉口语和寒暄。只输出整理后的文字。

问题：%s
回答：%s`

// findQuestion 找到触发这条助手消息的用户提问，找不到返回空串
func (s *Service) findQuestion(msg *domainChat.Message) string {
	messages, err := s.messages.FindByConversation(msg.ConversationID, 0)
	if err != nil {
		s.logger.Warn("Failed to load conversation messages", "conversation_id", msg.ConversationID, "error", err)
		return ""
	}

	question := ""
	for _, m := range messages {
		if m.ID == msg.ID {
			return question
		}
		if m.Role == domainChat.RoleUser {
			question = m.Content
		}
	}
	return question
}

// promotionTitle 从提问生成知识条目标题
func promotionTitle(question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return "对话沉淀"
	}
	runes := []rune(question)
	if len(runes) > 24 {
		return string(runes[:24])
	}
	return question
}
