// Package chat 实现会话管理：会话 CRUD、消息发送、打分、标题与摘要
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kbchat/backend/internal/application/query"
	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/log"
)

var (
	// ErrConversationNotFound 会话不存在
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrForbidden 会话不归属当前 API Key
	ErrForbidden = errors.New("conversation belongs to another key")
	// ErrInvalidScore 打分超出 1-5 范围
	ErrInvalidScore = errors.New("score must be between 1 and 5")
	// ErrInvalidMode 会话模式非法
	ErrInvalidMode = errors.New("mode must be test or train")
)

// Asker 问答编排入口
type Asker interface {
	Ask(ctx context.Context, conv *domainChat.Conversation, question string, filters query.Filters) (*domainChat.Message, *query.Answer, error)
}

// Generator 文本生成器（标题、摘要）
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) *llm.Result
}

// Promoter 把消息晋升进知识库
type Promoter interface {
	PromoteMessage(ctx context.Context, msg *domainChat.Message, provenance string) (bool, error)
}

// Forgetter 清理会话的长期记忆
type Forgetter interface {
	Forget(ctx context.Context, conversationID string) error
}

// Service 会话应用服务
type Service struct {
	cfg       *config.Config
	convs     domainChat.ConversationRepository
	messages  domainChat.MessageRepository
	asker     Asker
	generator Generator
	promoter  Promoter
	memory    Forgetter
	logger    *slog.Logger

	bg sync.WaitGroup // 后台任务（标题生成）
}

// NewService 创建会话应用服务
func NewService(
	cfg *config.Config,
	convs domainChat.ConversationRepository,
	messages domainChat.MessageRepository,
	asker Asker,
	generator Generator,
	promoter Promoter,
	memory Forgetter,
) *Service {
	return &Service{
		cfg:       cfg,
		convs:     convs,
		messages:  messages,
		asker:     asker,
		generator: generator,
		promoter:  promoter,
		memory:    memory,
		logger:    log.NewModuleLogger("chat", "service"),
	}
}

// CreateConversation 创建会话，mode 为空时默认 test
func (s *Service) CreateConversation(ownerKey, title, mode string) (*domainChat.Conversation, error) {
	if mode == "" {
		mode = domainChat.ModeTest
	}
	if mode != domainChat.ModeTest && mode != domainChat.ModeTrain {
		return nil, ErrInvalidMode
	}
	if title == "" {
		title = "新对话"
	}

	conv := &domainChat.Conversation{
		Title:    title,
		OwnerKey: ownerKey,
		Mode:     mode,
	}
	if err := s.convs.Save(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("Conversation created", "conversation_id", conv.ID, "mode", mode)
	return conv, nil
}

// GetConversation 获取会话并校验归属
func (s *Service) GetConversation(id, ownerKey string) (*domainChat.Conversation, error) {
	conv, err := s.convs.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.OwnedBy(ownerKey) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListConversations 列出归属当前 API Key 的会话
func (s *Service) ListConversations(ownerKey string, limit, offset int) ([]*domainChat.Conversation, error) {
	return s.convs.FindByOwner(ownerKey, limit, offset)
}

// DeleteConversation 删除会话，连同消息与长期记忆
func (s *Service) DeleteConversation(ctx context.Context, id, ownerKey string) error {
	conv, err := s.GetConversation(id, ownerKey)
	if err != nil {
		return err
	}

	// 记忆清理失败不阻塞删除
	if err := s.memory.Forget(ctx, conv.ID); err != nil {
		s.logger.Warn("Failed to forget conversation memory", "conversation_id", conv.ID, "error", err)
	}

	if err := s.convs.Delete(conv.ID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.logger.Info("Conversation deleted", "conversation_id", conv.ID)
	return nil
}

// Messages 获取会话消息，按时间正序
func (s *Service) Messages(id, ownerKey string, limit int) ([]*domainChat.Message, error) {
	if _, err := s.GetConversation(id, ownerKey); err != nil {
		return nil, err
	}
	return s.messages.FindByConversation(id, limit)
}

// SendMessage 发送一条用户消息并返回助手回答
func (s *Service) SendMessage(ctx context.Context, conversationID, ownerKey, question string, filters query.Filters) (*domainChat.Message, *query.Answer, error) {
	conv, err := s.GetConversation(conversationID, ownerKey)
	if err != nil {
		return nil, nil, err
	}

	// 1. 从本轮提问中抽取用户事实，供提示词使用
	if facts := ExtractMemoryFacts(question); len(facts) > 0 {
		if conv.Memory == nil {
			conv.Memory = make(map[string]string)
		}
		for key, value := range facts {
			conv.Memory[key] = value
		}
		if err := s.convs.Save(conv); err != nil {
			s.logger.Warn("Failed to save conversation memory", "conversation_id", conv.ID, "error", err)
		}
	}

	// 2. 问答编排
	msg, answer, err := s.asker.Ask(ctx, conv, question, filters)
	if err != nil {
		return nil, nil, err
	}

	// 3. 首轮对话后台生成标题
	if !conv.IsTitleGenerated {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.generateTitle(context.Background(), conv.ID, question)
		}()
	}

	return msg, answer, nil
}

// RateMessage 给助手消息打分（1-5）
// train 模式下达到阈值的打分触发一次晋升，is_training 标记保证只晋升一次
func (s *Service) RateMessage(ctx context.Context, messageID, ownerKey string, score int, comment string) (bool, error) {
	if score < 1 || score > 5 {
		return false, ErrInvalidScore
	}

	msg, err := s.messages.FindByID(messageID)
	if err != nil {
		return false, fmt.Errorf("failed to find message: %w", err)
	}
	if msg == nil {
		return false, ErrMessageNotFound
	}

	conv, err := s.GetConversation(msg.ConversationID, ownerKey)
	if err != nil {
		return false, err
	}

	if err := s.messages.UpdateScore(msg.ID, score); err != nil {
		return false, fmt.Errorf("failed to update score: %w", err)
	}
	msg.Score = &score

	if comment != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		msg.Metadata["rate_comment"] = comment
		if err := s.messages.Save(msg); err != nil {
			s.logger.Warn("Failed to save rate comment", "message_id", msg.ID, "error", err)
		}
	}

	if conv.Mode != domainChat.ModeTrain || score < s.cfg.Training.RateThreshold {
		return false, nil
	}

	promoted, err := s.promoter.PromoteMessage(ctx, msg, "manual_rate")
	if err != nil {
		s.logger.Error("Failed to promote rated message", "message_id", msg.ID, "error", err)
		return false, nil
	}

	s.logger.Info("Message rated", "message_id", msg.ID, "score", score, "promoted", promoted)
	return promoted, nil
}

// Wait 等待后台任务结束，服务关停时调用
func (s *Service) Wait() {
	s.bg.Wait()
}
