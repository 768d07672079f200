package chat

import "time"

// 会话模式常量
const (
	ModeTest  = "test"
	ModeTrain = "train"
)

// 消息角色常量
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation 聊天会话
type Conversation struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	OwnerKey         string            `json:"-"` // 归属 API Key，不对外返回
	Mode             string            `json:"mode"`
	IsTitleGenerated bool              `json:"is_title_generated"`
	Memory           map[string]string `json:"memory,omitempty"` // 对话中抽取的事实
	Summary          string            `json:"summary,omitempty"`
	LastActivityAt   time.Time         `json:"last_activity_at"`
	CreatedAt        time.Time         `json:"created_at"`
}

// OwnedBy 检查会话是否归属指定 API Key
func (c *Conversation) OwnedBy(ownerKey string) bool {
	return c.OwnerKey == ownerKey
}

// Message 会话中的一轮发言
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Score          *int           `json:"score,omitempty"` // 质量评分，按入口 1-5 或 0-10
	IsTraining     bool           `json:"is_training"`     // 是否已晋升进知识库
	Metadata       map[string]any `json:"metadata,omitempty"`
	ContextJSON    string         `json:"-"` // 生成时使用的检索上下文快照
	CreatedAt      time.Time      `json:"created_at"`
}

// Feedback 用户反馈记录
type Feedback struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Score     int            `json:"score"` // 0-10
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
