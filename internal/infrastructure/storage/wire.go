package storage

import (
	"github.com/google/wire"
)

// ProviderSet 存储层依赖注入
var ProviderSet = wire.NewSet(
	ProvideDB,
	NewFileRepository,
	NewChunkRepository,
	NewIngestQueueRepository,
	NewConversationRepository,
	NewMessageRepository,
	NewFeedbackRepository,
)
