package ingest

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/embedding"
	"github.com/kbchat/backend/internal/infrastructure/extract"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/vector"
	"github.com/kbchat/backend/internal/infrastructure/websocket"
)

// ProvideService 用具体基础设施组装入库服务
func ProvideService(
	cfg *config.Config,
	files kb.FileRepository,
	chunks kb.ChunkRepository,
	queue kb.IngestQueueRepository,
	extractor *extract.Client,
	router *llm.Router,
	embedder *embedding.Client,
	vectors *vector.Store,
	hub *websocket.Hub,
) *Service {
	return NewService(cfg, files, chunks, queue, extractor, router, embedder, vectors, hub)
}

// ProviderSet 入库流水线 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideService,
	NewWorker,
)
