package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/google/uuid"
)

// 确保 ConversationRepositoryImpl 实现了 domainChat.ConversationRepository 接口
var _ domainChat.ConversationRepository = (*ConversationRepositoryImpl)(nil)

// ConversationRepositoryImpl 会话仓储实现
type ConversationRepositoryImpl struct {
	db *sql.DB
}

// NewConversationRepository 创建会话仓储实例
func NewConversationRepository(db *sql.DB) domainChat.ConversationRepository {
	return &ConversationRepositoryImpl{db: db}
}

// Save 保存会话（创建或更新）
func (r *ConversationRepositoryImpl) Save(conv *domainChat.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	memoryJSON, _ := json.Marshal(conv.Memory)

	isTitleGenerated := 0
	if conv.IsTitleGenerated {
		isTitleGenerated = 1
	}

	query := `
		INSERT OR REPLACE INTO conversations (
			id, title, owner_key, mode, is_title_generated, memory, summary,
			last_activity_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		conv.ID,
		conv.Title,
		conv.OwnerKey,
		conv.Mode,
		isTitleGenerated,
		string(memoryJSON),
		conv.Summary,
		conv.LastActivityAt.UnixMilli(),
		conv.CreatedAt.UnixMilli(),
	)

	return err
}

// FindByID 根据 ID 查找会话
func (r *ConversationRepositoryImpl) FindByID(id string) (*domainChat.Conversation, error) {
	query := `
		SELECT id, title, owner_key, mode, is_title_generated, memory, summary,
		       last_activity_at, created_at
		FROM conversations
		WHERE id = ?`

	conv, err := r.scanConversation(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conv, err
}

// FindByOwner 按归属 API Key 查询会话，按最近活跃时间倒序
func (r *ConversationRepositoryImpl) FindByOwner(ownerKey string, limit, offset int) ([]*domainChat.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, title, owner_key, mode, is_title_generated, memory, summary,
		       last_activity_at, created_at
		FROM conversations
		WHERE owner_key = ?
		ORDER BY last_activity_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, ownerKey, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainChat.Conversation
	for rows.Next() {
		conv, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, conv)
	}

	return results, rows.Err()
}

// Touch 更新最近活跃时间
func (r *ConversationRepositoryImpl) Touch(id string) error {
	_, err := r.db.Exec(
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	return err
}

// Delete 删除会话（级联删除消息）
func (r *ConversationRepositoryImpl) Delete(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// scanConversation 扫描一行会话数据
func (r *ConversationRepositoryImpl) scanConversation(row rowScanner) (*domainChat.Conversation, error) {
	var conv domainChat.Conversation
	var memoryJSON, summary sql.NullString
	var isTitleGenerated int
	var lastActivityAt, createdAt int64

	err := row.Scan(
		&conv.ID,
		&conv.Title,
		&conv.OwnerKey,
		&conv.Mode,
		&isTitleGenerated,
		&memoryJSON,
		&summary,
		&lastActivityAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	conv.IsTitleGenerated = isTitleGenerated == 1
	if memoryJSON.Valid && memoryJSON.String != "" {
		json.Unmarshal([]byte(memoryJSON.String), &conv.Memory)
	}
	if summary.Valid {
		conv.Summary = summary.String
	}
	conv.LastActivityAt = time.UnixMilli(lastActivityAt)
	conv.CreatedAt = time.UnixMilli(createdAt)

	return &conv, nil
}
