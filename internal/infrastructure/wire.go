package infrastructure

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/embedding"
	"github.com/kbchat/backend/internal/infrastructure/extract"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/memory"
	"github.com/kbchat/backend/internal/infrastructure/storage"
	"github.com/kbchat/backend/internal/infrastructure/vector"
	"github.com/kbchat/backend/internal/infrastructure/websocket"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	embedding.ProviderSet,
	vector.ProviderSet,
	llm.ProviderSet,
	extract.ProviderSet,
	memory.ProviderSet,
	websocket.ProviderSet,
)
