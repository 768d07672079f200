package memory

import "github.com/google/wire"

// ProviderSet 会话记忆 ProviderSet
var ProviderSet = wire.NewSet(
	NewStore,
)
