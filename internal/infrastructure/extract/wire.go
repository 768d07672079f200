package extract

import "github.com/google/wire"

// ProviderSet 文档抽取 ProviderSet
var ProviderSet = wire.NewSet(
	NewClient,
)
