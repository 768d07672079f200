package training

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/application/ingest"
	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
)

// ProvideService 用具体协作方组装评分与晋升服务
func ProvideService(
	cfg *config.Config,
	router *llm.Router,
	messages domainChat.MessageRepository,
	feedbacks domainChat.FeedbackRepository,
	knowledge *ingest.Service,
) *Service {
	return NewService(cfg, router, messages, feedbacks, knowledge)
}

// ProviderSet 评分与晋升 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideService,
)
