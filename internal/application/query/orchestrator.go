// Package query 实现知识库问答编排：检索、组装提示词、生成、落库
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/domain/retrieval"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/vector"
)

// Embedder 查询向量化
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher 知识库向量检索
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, opts vector.SearchOptions) ([]retrieval.Hit, error)
	Scroll(ctx context.Context, collection string, filter *vector.Filter, limit int) ([]retrieval.Hit, error)
}

// Memory 会话长期记忆
type Memory interface {
	Recall(ctx context.Context, conversationID string, queryVector []float32, limit int) ([]retrieval.Hit, error)
	Remember(ctx context.Context, conversationID, role, text string) error
}

// Generator 文本生成器
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) *llm.Result
}

// Filters 检索过滤条件
type Filters struct {
	// Sources 限定来源（文件原始名或 train 来源标识），多个为或关系
	Sources []string `json:"sources,omitempty"`
	// DocID 限定单个文件
	DocID string `json:"doc_id,omitempty"`
}

func (f Filters) empty() bool {
	return len(f.Sources) == 0 && f.DocID == ""
}

// Citation 回答引用的资料
type Citation struct {
	Ref        string  `json:"ref"` // k1..kn
	PointID    string  `json:"point_id,omitempty"`
	Source     string  `json:"source"`
	DocID      string  `json:"doc_id,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score,omitempty"`
}

// Answer 一次问答的结果
type Answer struct {
	Text      string     `json:"text"`
	UsedKB    bool       `json:"used_kb"`
	HitCount  int        `json:"hit_count"`
	Citations []Citation `json:"citations,omitempty"`
	Driver    string     `json:"driver,omitempty"`
	FellBack  bool       `json:"fell_back,omitempty"`
}

// Orchestrator 问答编排器
type Orchestrator struct {
	cfg       *config.Config
	embedder  Embedder
	searcher  Searcher
	memory    Memory
	generator Generator
	messages  chat.MessageRepository
	convs     chat.ConversationRepository

	// embedCache 查询向量缓存，相同问题短时间内复用向量
	embedCache *gocache.Cache
	logger     *slog.Logger
}

// NewOrchestrator 创建问答编排器
func NewOrchestrator(
	cfg *config.Config,
	embedder Embedder,
	searcher Searcher,
	memory Memory,
	generator Generator,
	messages chat.MessageRepository,
	convs chat.ConversationRepository,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		embedder:   embedder,
		searcher:   searcher,
		memory:     memory,
		generator:  generator,
		messages:   messages,
		convs:      convs,
		embedCache: gocache.New(5*time.Minute, 10*time.Minute),
		logger:     log.NewModuleLogger("query", "orchestrator"),
	}
}

// Ask 执行一轮问答：保存用户消息、检索、生成并保存助手消息
func (o *Orchestrator) Ask(ctx context.Context, conv *chat.Conversation, question string, filters Filters) (*chat.Message, *Answer, error) {
	// 1. 保存用户消息
	userMsg := &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Content:        question,
	}
	if err := o.messages.Save(userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to save user message: %w", err)
	}

	// 2. 查询向量化（失败时降级为无知识库问答）
	queryVector := o.embedQuery(ctx, question)

	// 3. 知识库检索 + 兜底
	hits := o.retrieve(ctx, queryVector, filters)

	// 4. 会话记忆
	memoryLines := o.recallMemory(ctx, conv, queryVector, question)

	// 5. 生成回答：有命中走知识库问答，否则普通对话
	task := llm.TaskChat
	if len(hits) > 0 {
		task = llm.TaskKBAnswer
	}

	prompt := BuildAnswerPrompt(PromptInput{
		Question:        question,
		Hits:            hits,
		MemoryLines:     memoryLines,
		NotFoundMessage: o.cfg.Retrieval.NotFoundMessage,
		ChunkCharLimit:  o.cfg.Retrieval.ChunkCharLimit,
	})

	result := o.generator.Generate(ctx, &llm.Request{
		Prompt:       prompt,
		SystemPrompt: renderMemoryProfile(conv.Memory),
		Meta:         llm.Meta{Task: task, Job: conv.ID, Source: "query"},
	})

	// 6. 两个引擎都失败时兜底固定话术
	answerText := result.Text
	if answerText == "" {
		answerText = o.cfg.Retrieval.NotFoundMessage
	}

	answer := &Answer{
		Text:     answerText,
		UsedKB:   len(hits) > 0,
		HitCount: len(hits),
		Driver:   result.Driver,
		FellBack: result.FellBack,
	}
	for i, hit := range hits {
		answer.Citations = append(answer.Citations, Citation{
			Ref:        fmt.Sprintf("k%d", i+1),
			PointID:    hit.PointID,
			Source:     hit.Source,
			DocID:      hit.DocID,
			ChunkIndex: hit.ChunkIndex,
			Text:       hit.Text,
			Score:      hit.Score,
		})
	}

	// 7. 保存助手消息，引用快照随消息落库
	contextJSON, _ := json.Marshal(answer.Citations)
	assistantMsg := &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Content:        answerText,
		ContextJSON:    string(contextJSON),
		Metadata: map[string]any{
			"used_kb":   answer.UsedKB,
			"hit_count": answer.HitCount,
			"driver":    answer.Driver,
			"fell_back": answer.FellBack,
		},
	}
	if err := o.messages.Save(assistantMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	if err := o.convs.Touch(conv.ID); err != nil {
		o.logger.Warn("Failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}

	// 8. 写入长期记忆（失败不影响回答）
	o.remember(ctx, conv.ID, question, answerText)

	o.logger.Info("Question answered",
		"conversation_id", conv.ID,
		"used_kb", answer.UsedKB,
		"hit_count", answer.HitCount,
		"driver", answer.Driver,
	)

	return assistantMsg, answer, nil
}

// embedQuery 向量化查询，带短期缓存；失败返回 nil
func (o *Orchestrator) embedQuery(ctx context.Context, question string) []float32 {
	if cached, ok := o.embedCache.Get(question); ok {
		return cached.([]float32)
	}

	queryVector, err := o.embedder.Embed(ctx, question)
	if err != nil {
		o.logger.Warn("Query embedding failed, answering without retrieval", "error", err)
		return nil
	}

	o.embedCache.Set(question, queryVector, gocache.DefaultExpiration)
	return queryVector
}

// retrieve 知识库检索，来源过滤无命中时退化为按过滤条件扫描
func (o *Orchestrator) retrieve(ctx context.Context, queryVector []float32, filters Filters) []retrieval.Hit {
	if queryVector == nil {
		return nil
	}

	filter := buildKBFilter(filters)

	hits, err := o.searcher.Search(ctx, o.cfg.Qdrant.KBCollection, queryVector, vector.SearchOptions{
		Limit:          o.cfg.Retrieval.TopK,
		ScoreThreshold: o.cfg.Retrieval.ScoreThreshold,
		Filter:         filter,
	})
	if err != nil {
		o.logger.Warn("KB search failed, answering without retrieval", "error", err)
		return nil
	}

	// 指定了过滤条件但一条都没过阈值时，退化为直接读取匹配的片段，
	// 保证"只看这个文件"之类的请求仍有资料可用
	if len(hits) == 0 && !filters.empty() {
		scrolled, err := o.searcher.Scroll(ctx, o.cfg.Qdrant.KBCollection, filter, o.cfg.Retrieval.TopK)
		if err != nil {
			o.logger.Warn("KB scroll fallback failed", "error", err)
			return nil
		}
		return scrolled
	}

	return hits
}

// recallMemory 组装会话记忆：最近几轮消息加上向量召回的历史片段
func (o *Orchestrator) recallMemory(ctx context.Context, conv *chat.Conversation, queryVector []float32, question string) []string {
	var lines []string
	seen := map[string]bool{question: true}

	recent, err := o.messages.FindRecent(conv.ID, o.cfg.Retrieval.MemoryTurns)
	if err != nil {
		o.logger.Warn("Failed to load recent messages", "conversation_id", conv.ID, "error", err)
	}
	for _, msg := range recent {
		if seen[msg.Content] {
			continue
		}
		seen[msg.Content] = true

		prefix := "用户"
		if msg.Role == chat.RoleAssistant {
			prefix = "助手"
		}
		lines = append(lines, fmt.Sprintf("%s：%s", prefix, msg.Content))
	}

	if queryVector != nil {
		recalled, err := o.memory.Recall(ctx, conv.ID, queryVector, 3)
		if err != nil {
			o.logger.Warn("Memory recall failed", "conversation_id", conv.ID, "error", err)
		}
		// 与最近消息逐字去重，避免同一句话出现两次
		for _, hit := range recalled {
			if seen[hit.Text] {
				continue
			}
			seen[hit.Text] = true

			prefix := "用户"
			if hit.Role == chat.RoleAssistant {
				prefix = "助手"
			}
			lines = append(lines, fmt.Sprintf("%s：%s", prefix, hit.Text))
		}
	}

	return lines
}

// remember 问答双方写入长期记忆
func (o *Orchestrator) remember(ctx context.Context, conversationID, question, answer string) {
	if err := o.memory.Remember(ctx, conversationID, chat.RoleUser, question); err != nil {
		o.logger.Warn("Failed to remember question", "conversation_id", conversationID, "error", err)
	}
	if err := o.memory.Remember(ctx, conversationID, chat.RoleAssistant, answer); err != nil {
		o.logger.Warn("Failed to remember answer", "conversation_id", conversationID, "error", err)
	}
}

// buildKBFilter 构建知识库过滤条件
func buildKBFilter(filters Filters) *vector.Filter {
	if filters.empty() {
		return nil
	}

	filter := &vector.Filter{}
	if filters.DocID != "" {
		filter.Must = append(filter.Must, vector.Match{Key: "doc_id", Value: filters.DocID})
	}
	for _, source := range filters.Sources {
		filter.Should = append(filter.Should, vector.Match{Key: "source", Value: source})
	}

	return filter
}

// renderMemoryProfile 把会话画像渲染为系统提示词
func renderMemoryProfile(memory map[string]string) string {
	if len(memory) == 0 {
		return ""
	}

	keys := make([]string, 0, len(memory))
	for key := range memory {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	profile := "关于当前用户的已知信息：\n"
	for _, key := range keys {
		profile += fmt.Sprintf("- %s: %s\n", key, memory[key])
	}
	return profile
}
