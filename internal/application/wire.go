package application

import (
	"github.com/google/wire"

	"github.com/kbchat/backend/internal/application/chat"
	"github.com/kbchat/backend/internal/application/ingest"
	"github.com/kbchat/backend/internal/application/query"
	"github.com/kbchat/backend/internal/application/training"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	ingest.ProviderSet,
	query.ProviderSet,
	training.ProviderSet,
	chat.ProviderSet,
)
