package chat

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/application/query"
	"github.com/kbchat/backend/internal/application/training"
	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/memory"
)

// ProvideService 用具体协作方组装会话服务
func ProvideService(
	cfg *config.Config,
	convs domainChat.ConversationRepository,
	messages domainChat.MessageRepository,
	orchestrator *query.Orchestrator,
	router *llm.Router,
	trainer *training.Service,
	mem *memory.Store,
) *Service {
	return NewService(cfg, convs, messages, orchestrator, router, trainer, mem)
}

// ProviderSet 会话服务 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideService,
)
