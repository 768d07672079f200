package vector

import (
	"encoding/json"

	"github.com/kbchat/backend/internal/domain/retrieval"
	"github.com/qdrant/go-client/qdrant"
)

// payload 字段约定
// 知识库集合：text / source / doc_id / chunk_index / tags(JSON 字符串) / title
// 记忆集合：text / conversation_id / role

// payloadToHit 将 qdrant payload 转换为检索命中
func payloadToHit(payload map[string]*qdrant.Value) retrieval.Hit {
	hit := retrieval.Hit{
		Text:       extractStringValue(payload["text"]),
		Source:     extractStringValue(payload["source"]),
		DocID:      extractStringValue(payload["doc_id"]),
		Title:      extractStringValue(payload["title"]),
		Role:       extractStringValue(payload["role"]),
		ChunkIndex: int(extractIntValue(payload["chunk_index"])),
	}

	if tagsJSON := extractStringValue(payload["tags"]); tagsJSON != "" {
		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err == nil {
			hit.Tags = tags
		}
	}

	return hit
}

// pointIDToString 提取 point ID 的字符串表示
func pointIDToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return ""
}

// extractStringValue 从 qdrant.Value 提取字符串值
func extractStringValue(val *qdrant.Value) string {
	if val == nil {
		return ""
	}
	return val.GetStringValue()
}

// extractIntValue 从 qdrant.Value 提取整数值
func extractIntValue(val *qdrant.Value) int64 {
	if val == nil {
		return 0
	}
	if intVal := val.GetIntegerValue(); intVal != 0 {
		return intVal
	}
	if dblVal := val.GetDoubleValue(); dblVal != 0 {
		return int64(dblVal)
	}
	return 0
}
