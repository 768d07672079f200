package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/google/uuid"
)

// 确保 MessageRepositoryImpl 实现了 domainChat.MessageRepository 接口
var _ domainChat.MessageRepository = (*MessageRepositoryImpl)(nil)

// MessageRepositoryImpl 消息仓储实现
type MessageRepositoryImpl struct {
	db *sql.DB
}

// NewMessageRepository 创建消息仓储实例
func NewMessageRepository(db *sql.DB) domainChat.MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

const messageColumns = `id, conversation_id, role, content, score, is_training, metadata, context_snapshot, created_at`

// Save 保存消息
func (r *MessageRepositoryImpl) Save(msg *domainChat.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var metadataJSON string
	if msg.Metadata != nil {
		data, _ := json.Marshal(msg.Metadata)
		metadataJSON = string(data)
	}

	isTraining := 0
	if msg.IsTraining {
		isTraining = 1
	}

	query := `
		INSERT OR REPLACE INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		nullableIntPtr(msg.Score),
		isTraining,
		nullableString(metadataJSON),
		nullableString(msg.ContextJSON),
		msg.CreatedAt.UnixMilli(),
	)

	return err
}

// FindByID 根据 ID 查找消息
func (r *MessageRepositoryImpl) FindByID(id string) (*domainChat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	msg, err := r.scanMessage(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// FindByConversation 按会话查询消息，按时间正序，limit<=0 表示不限制
func (r *MessageRepositoryImpl) FindByConversation(conversationID string, limit int) ([]*domainChat.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`

	if limit > 0 {
		query += ` LIMIT ?`
		return r.queryMessages(query, conversationID, limit)
	}
	return r.queryMessages(query, conversationID)
}

// FindRecent 查询会话最近的 N 条消息，按时间正序返回
func (r *MessageRepositoryImpl) FindRecent(conversationID string, limit int) ([]*domainChat.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	// 先取倒序的最近 N 条，再在内存中翻转为正序
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	messages, err := r.queryMessages(query, conversationID, limit)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// UpdateScore 更新消息评分
func (r *MessageRepositoryImpl) UpdateScore(id string, score int) error {
	_, err := r.db.Exec(`UPDATE messages SET score = ? WHERE id = ?`, score, id)
	return err
}

// MarkTraining 将消息标记为已入库训练数据，仅在未标记时生效
func (r *MessageRepositoryImpl) MarkTraining(id string) (bool, error) {
	result, err := r.db.Exec(
		`UPDATE messages SET is_training = 1 WHERE id = ? AND is_training = 0`,
		id,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// DeleteByConversation 删除会话下的全部消息
func (r *MessageRepositoryImpl) DeleteByConversation(conversationID string) error {
	_, err := r.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

func (r *MessageRepositoryImpl) queryMessages(query string, args ...interface{}) ([]*domainChat.Message, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainChat.Message
	for rows.Next() {
		msg, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, msg)
	}

	return results, rows.Err()
}

// scanMessage 扫描一行消息数据
func (r *MessageRepositoryImpl) scanMessage(row rowScanner) (*domainChat.Message, error) {
	var msg domainChat.Message
	var score sql.NullInt64
	var isTraining int
	var metadataJSON, contextJSON sql.NullString
	var createdAt int64

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Role,
		&msg.Content,
		&score,
		&isTraining,
		&metadataJSON,
		&contextJSON,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if score.Valid {
		v := int(score.Int64)
		msg.Score = &v
	}
	msg.IsTraining = isTraining == 1
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata)
	}
	if contextJSON.Valid {
		msg.ContextJSON = contextJSON.String
	}
	msg.CreatedAt = time.UnixMilli(createdAt)

	return &msg, nil
}

// nullableString 空字符串转为 NULL
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableIntPtr nil 指针转为 NULL
func nullableIntPtr(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
