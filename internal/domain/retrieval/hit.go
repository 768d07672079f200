package retrieval

// Hit 向量库的一条检索结果（瞬态，不落库）
// 兜底 scroll 返回的结果没有分数，HasScore=false，按库内原始顺序排列
type Hit struct {
	PointID    string   `json:"point_id"`
	Score      float32  `json:"score"`
	HasScore   bool     `json:"has_score"`
	Source     string   `json:"source"`            // 来源标识（原始文件名或 train 来源）
	DocID      string   `json:"doc_id"`            // 归属文件 ID
	ChunkIndex int      `json:"chunk_index"`
	Text       string   `json:"text"`
	Title      string   `json:"title,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Role       string   `json:"role,omitempty"` // 记忆集合专用：该片段的发言角色
}
