package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
// 所有可配置项集中于此：默认值在 NewConfig，YAML 文件与环境变量依次覆盖
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Extract   ExtractConfig   `yaml:"extract"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Training  TrainingConfig  `yaml:"training"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort string `yaml:"http_port" env:"KBCHAT_HTTP_PORT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path sqlite 数据库文件路径，空则使用数据目录下的 kbchat.db
	Path string `yaml:"path" env:"KBCHAT_DB_PATH"`
}

// QdrantConfig 向量库配置
type QdrantConfig struct {
	Host             string `yaml:"host" env:"QDRANT_HOST"`
	GRPCPort         int    `yaml:"grpc_port" env:"QDRANT_GRPC_PORT"`
	KBCollection     string `yaml:"kb_collection" env:"QDRANT_KB_COLLECTION"`
	MemoryCollection string `yaml:"memory_collection" env:"QDRANT_MEMORY_COLLECTION"`
	VectorSize       uint64 `yaml:"vector_size" env:"QDRANT_VECTOR_SIZE"`
}

// EmbeddingConfig Embedding 服务配置
type EmbeddingConfig struct {
	BaseURL string        `yaml:"base_url" env:"EMBEDDING_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	Model   string        `yaml:"model" env:"EMBEDDING_MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"EMBEDDING_TIMEOUT"`
}

// ExtractConfig 文档抽取服务配置
type ExtractConfig struct {
	BaseURL string        `yaml:"base_url" env:"EXTRACT_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"EXTRACT_TIMEOUT"`
}

// LLMConfig LLM 引擎与路由配置
type LLMConfig struct {
	// DefaultDriver 默认引擎：local / gemini
	DefaultDriver string `yaml:"default_driver" env:"LLM_DEFAULT_DRIVER"`

	OllamaBaseURL string `yaml:"ollama_base_url" env:"OLLAMA_BASE_URL"`
	OllamaModel   string `yaml:"ollama_model" env:"OLLAMA_MODEL"`

	GeminiAPIKey   string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel    string `yaml:"gemini_model" env:"GEMINI_MODEL"`
	GeminiEndpoint string `yaml:"gemini_endpoint" env:"GEMINI_ENDPOINT"`

	Timeout time.Duration `yaml:"timeout" env:"LLM_TIMEOUT"`
}

// RetrievalConfig 检索与问答配置
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k" env:"RETRIEVAL_TOP_K"`
	ScoreThreshold  float32 `yaml:"score_threshold" env:"RETRIEVAL_SCORE_THRESHOLD"`
	ChunkCharLimit  int     `yaml:"chunk_char_limit" env:"RETRIEVAL_CHUNK_CHAR_LIMIT"`
	MemoryTurns     int     `yaml:"memory_turns" env:"RETRIEVAL_MEMORY_TURNS"`
	NotFoundMessage string  `yaml:"not_found_message" env:"RETRIEVAL_NOT_FOUND_MESSAGE"`
}

// IngestConfig 文件入库流水线配置
type IngestConfig struct {
	// DataDir 文件存储根目录，空则使用默认数据目录
	DataDir string `yaml:"data_dir" env:"KBCHAT_DATA_DIR"`
	// DropDir 自动入库的投递目录，空则关闭目录监听
	DropDir string `yaml:"drop_dir" env:"KBCHAT_DROP_DIR"`

	WorkerCount  int           `yaml:"worker_count" env:"INGEST_WORKER_COUNT"`
	PollInterval time.Duration `yaml:"poll_interval" env:"INGEST_POLL_INTERVAL"`
	BatchSize    int           `yaml:"batch_size" env:"INGEST_BATCH_SIZE"`

	// TagInputCap 标签抽取输入上限（字符）
	TagInputCap int `yaml:"tag_input_cap" env:"INGEST_TAG_INPUT_CAP"`
	// SummaryInputCap 摘要输入上限（字符）
	SummaryInputCap int `yaml:"summary_input_cap" env:"INGEST_SUMMARY_INPUT_CAP"`

	// ChunkTokens 晋升文本切片的 token 预算
	ChunkTokens int `yaml:"chunk_tokens" env:"INGEST_CHUNK_TOKENS"`
	// ChunkOverlapTokens 相邻切片重叠的 token 数
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens" env:"INGEST_CHUNK_OVERLAP_TOKENS"`
}

// TrainingConfig 反馈晋升配置
type TrainingConfig struct {
	// FeedbackThreshold 0-10 数值反馈的晋升阈值
	FeedbackThreshold int `yaml:"feedback_threshold" env:"TRAINING_FEEDBACK_THRESHOLD"`
	// AutoScoreBar 自动评分（1-5）的晋升下限
	AutoScoreBar int `yaml:"auto_score_bar" env:"TRAINING_AUTO_SCORE_BAR"`
	// RateThreshold train 模式下 1-5 打分触发晋升的下限
	RateThreshold int `yaml:"rate_threshold" env:"TRAINING_RATE_THRESHOLD"`
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size"`
	WriteBufferSize int `yaml:"write_buffer_size"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	// APIKeys 允许访问的静态 API Key 列表
	APIKeys []string `yaml:"api_keys" env:"KBCHAT_API_KEYS" envSeparator:","`
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: ":8090",
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Qdrant: QdrantConfig{
			Host:             "localhost",
			GRPCPort:         6334,
			KBCollection:     "kb",
			MemoryCollection: "chat_history",
			VectorSize:       1024,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:8080",
			Model:   "bge-m3",
			Timeout: 15 * time.Second,
		},
		Extract: ExtractConfig{
			BaseURL: "http://localhost:8091",
			Timeout: 120 * time.Second,
		},
		LLM: LLMConfig{
			DefaultDriver:  "local",
			OllamaBaseURL:  "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			GeminiModel:    "gemini-2.0-flash",
			GeminiEndpoint: "https://generativelanguage.googleapis.com/v1beta",
			Timeout:        120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:            4,
			ScoreThreshold:  0.2,
			ChunkCharLimit:  1200,
			MemoryTurns:     6,
			NotFoundMessage: "I don't have this information in the knowledge base.",
		},
		Ingest: IngestConfig{
			WorkerCount:        2,
			PollInterval:       5 * time.Second,
			BatchSize:          4,
			TagInputCap:        4000,
			SummaryInputCap:    20000,
			ChunkTokens:        400,
			ChunkOverlapTokens: 40,
		},
		Training: TrainingConfig{
			FeedbackThreshold: 8,
			AutoScoreBar:      4,
			RateThreshold:     4,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Load 加载配置：默认值 -> YAML 文件（KBCHAT_CONFIG 指定，可选）-> 环境变量
func Load() (*Config, error) {
	cfg := NewConfig()

	if path := os.Getenv("KBCHAT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env config: %w", err)
	}

	return cfg, nil
}

// loadFile 读取 YAML 配置文件并覆盖当前配置
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return nil
}

// ResolvedDataDir 返回文件存储根目录
func (c *Config) ResolvedDataDir() string {
	if c.Ingest.DataDir != "" {
		return c.Ingest.DataDir
	}
	return GetDataDir()
}

// UploadDir 返回上传文件存储目录
func (c *Config) UploadDir() string {
	return filepath.Join(c.ResolvedDataDir(), "uploads")
}

// ResolvedDBPath 返回 sqlite 数据库路径
func (c *Config) ResolvedDBPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "kbchat.db")
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}

// NewDatabaseConfig 创建数据库配置
func NewDatabaseConfig(cfg *Config) *DatabaseConfig {
	return &cfg.Database
}
