package kb

import "time"

// Chunk 文件抽取出的一段连续文本
// (FileID, ChunkIndex) 唯一，顺序保持原文档顺序
type Chunk struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	PointID    string    `json:"point_id,omitempty"` // 向量库 point ID，入库后写入
	CreatedAt  time.Time `json:"created_at"`
}
