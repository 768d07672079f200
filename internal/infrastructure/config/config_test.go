package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8090", cfg.Server.HTTPPort)
	assert.Equal(t, "kb", cfg.Qdrant.KBCollection)
	assert.Equal(t, "chat_history", cfg.Qdrant.MemoryCollection)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.2, cfg.Retrieval.ScoreThreshold, 0.0001)
	assert.Equal(t, 4000, cfg.Ingest.TagInputCap)
	assert.Equal(t, 20000, cfg.Ingest.SummaryInputCap)
	assert.Equal(t, 8, cfg.Training.FeedbackThreshold)
	assert.Equal(t, 4, cfg.Training.AutoScoreBar)
	assert.Equal(t, "local", cfg.LLM.DefaultDriver)
	assert.NotEmpty(t, cfg.Retrieval.NotFoundMessage)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  http_port: ":9100"
retrieval:
  top_k: 8
  score_threshold: 0.12
llm:
  default_driver: gemini
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	t.Setenv("KBCHAT_CONFIG", configPath)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.12, cfg.Retrieval.ScoreThreshold, 0.0001)
	assert.Equal(t, "gemini", cfg.LLM.DefaultDriver)

	// 未覆盖的字段保持默认值
	assert.Equal(t, "kb", cfg.Qdrant.KBCollection)
	assert.Equal(t, 8, cfg.Training.FeedbackThreshold)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
llm:
  default_driver: local
embedding:
  model: bge-m3
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	t.Setenv("KBCHAT_CONFIG", configPath)
	t.Setenv("LLM_DEFAULT_DRIVER", "gemini")
	t.Setenv("EMBEDDING_TIMEOUT", "30s")
	t.Setenv("KBCHAT_API_KEYS", "key-a,key-b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.DefaultDriver)
	assert.Equal(t, "bge-m3", cfg.Embedding.Model)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.APIKeys)
}

func TestConfig_ResolvedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Ingest.DataDir = "/tmp/kbchat-test"

	assert.Equal(t, "/tmp/kbchat-test", cfg.ResolvedDataDir())
	assert.Equal(t, filepath.Join("/tmp/kbchat-test", "uploads"), cfg.UploadDir())
	assert.Equal(t, filepath.Join("/tmp/kbchat-test", "kbchat.db"), cfg.ResolvedDBPath())

	cfg.Database.Path = "/var/db/custom.db"
	assert.Equal(t, "/var/db/custom.db", cfg.ResolvedDBPath())
}
