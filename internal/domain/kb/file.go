package kb

import (
	"strings"
	"time"
)

// 文件状态常量
const (
	StatusUploaded  = "uploaded"
	StatusParsing   = "parsing"
	StatusTagged    = "tagged"
	StatusEmbedding = "embedding"
	StatusReady     = "ready"
	StatusFailed    = "failed"
)

// 各阶段对应的进度值
const (
	ProgressUploaded  = 10
	ProgressParsing   = 30
	ProgressNoChunks  = 50
	ProgressParsed    = 65
	ProgressTagged    = 75
	ProgressEmbedding = 80
	ProgressReady     = 100
)

// 文件来源常量
const (
	SourceUpload    = "upload"
	SourceChatTrain = "chat_train"
)

// MaxTags 自动标签数量上限
const MaxTags = 10

// KnowledgeFile 知识库文件
type KnowledgeFile struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`      // 存储文件名
	OriginalName string    `json:"original_name"` // 上传时的原始文件名
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	StoragePath  string    `json:"storage_path"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	Tags         []string  `json:"tags"`      // 用户确认的标签
	AutoTags     []string  `json:"auto_tags"` // 系统推断的标签
	Summary      string    `json:"summary,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// 合法的状态迁移表
// failed 可以从任意非终态进入；ready/failed 为终态，只能通过显式重新入库离开
var statusTransitions = map[string][]string{
	StatusUploaded:  {StatusParsing, StatusFailed},
	StatusParsing:   {StatusTagged, StatusFailed},
	StatusTagged:    {StatusEmbedding, StatusFailed},
	StatusEmbedding: {StatusReady, StatusFailed},
	StatusReady:     {},
	StatusFailed:    {},
}

// CanTransition 检查状态迁移是否合法
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal 检查状态是否为终态
func IsTerminal(status string) bool {
	return status == StatusReady || status == StatusFailed
}

// HasTags 检查文件是否拥有至少一个标签（用户确认或自动推断）
// 确认入库的前置条件
func (f *KnowledgeFile) HasTags() bool {
	return len(f.Tags) > 0 || len(f.AutoTags) > 0
}

// ResolvedTags 返回生效的标签集合：优先用户确认的标签，否则自动标签
func (f *KnowledgeFile) ResolvedTags() []string {
	if len(f.Tags) > 0 {
		return f.Tags
	}
	return f.AutoTags
}

// SourceLabel 检索 payload 中使用的来源标识
// 上传文件用原始文件名，训练等其他来源原样保留来源值
func (f *KnowledgeFile) SourceLabel() string {
	if f.Source == "" || f.Source == SourceUpload {
		return f.OriginalName
	}
	return f.Source
}

// NormalizeTags 规范化标签列表：小写、去空白、去重、截断到上限
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		result = append(result, normalized)
		if len(result) >= MaxTags {
			break
		}
	}
	return result
}
