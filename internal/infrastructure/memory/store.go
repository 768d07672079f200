package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kbchat/backend/internal/domain/retrieval"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/embedding"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/vector"
)

// Store 会话长期记忆，消息向量化后写入独立集合，按会话隔离检索
type Store struct {
	embedder   *embedding.Client
	vectors    *vector.Store
	collection string
	logger     *slog.Logger
}

// NewStore 创建会话记忆存储
func NewStore(cfg *config.Config, embedder *embedding.Client, vectors *vector.Store) *Store {
	return &Store{
		embedder:   embedder,
		vectors:    vectors,
		collection: cfg.Qdrant.MemoryCollection,
		logger:     log.NewModuleLogger("memory", "store"),
	}
}

// Remember 写入一条会话记忆
func (s *Store) Remember(ctx context.Context, conversationID, role, text string) error {
	if text == "" {
		return nil
	}

	embedVector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed memory: %w", err)
	}

	err = s.vectors.Upsert(ctx, s.collection, []vector.Point{
		{
			ID:     uuid.New().String(),
			Vector: embedVector,
			Payload: map[string]interface{}{
				"text":            text,
				"conversation_id": conversationID,
				"role":            role,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}

	return nil
}

// Recall 检索与查询相关的会话历史记忆，仅限当前会话
func (s *Store) Recall(ctx context.Context, conversationID string, queryVector []float32, limit int) ([]retrieval.Hit, error) {
	if limit <= 0 {
		limit = 3
	}

	hits, err := s.vectors.Search(ctx, s.collection, queryVector, vector.SearchOptions{
		Limit: limit,
		Filter: &vector.Filter{
			Must: []vector.Match{{Key: "conversation_id", Value: conversationID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recall memory: %w", err)
	}

	return hits, nil
}

// Forget 删除会话的全部记忆
func (s *Store) Forget(ctx context.Context, conversationID string) error {
	return s.vectors.DeleteByFilter(ctx, s.collection, &vector.Filter{
		Must: []vector.Match{{Key: "conversation_id", Value: conversationID}},
	})
}
