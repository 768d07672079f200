package query

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/embedding"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/memory"
	"github.com/kbchat/backend/internal/infrastructure/vector"
)

// ProvideOrchestrator 用具体基础设施组装问答编排器
func ProvideOrchestrator(
	cfg *config.Config,
	embedder *embedding.Client,
	vectors *vector.Store,
	mem *memory.Store,
	router *llm.Router,
	messages chat.MessageRepository,
	convs chat.ConversationRepository,
) *Orchestrator {
	return NewOrchestrator(cfg, embedder, vectors, mem, router, messages, convs)
}

// ProviderSet 问答编排 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideOrchestrator,
)
