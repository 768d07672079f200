package llm

import "github.com/google/wire"

// ProviderSet LLM 引擎与路由 ProviderSet
var ProviderSet = wire.NewSet(
	NewOllamaEngine,
	NewGeminiEngine,
	NewRouter,
)
