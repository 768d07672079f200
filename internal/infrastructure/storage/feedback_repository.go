package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/google/uuid"
)

// 确保 FeedbackRepositoryImpl 实现了 domainChat.FeedbackRepository 接口
var _ domainChat.FeedbackRepository = (*FeedbackRepositoryImpl)(nil)

// FeedbackRepositoryImpl 反馈仓储实现
type FeedbackRepositoryImpl struct {
	db *sql.DB
}

// NewFeedbackRepository 创建反馈仓储实例
func NewFeedbackRepository(db *sql.DB) domainChat.FeedbackRepository {
	return &FeedbackRepositoryImpl{db: db}
}

// Save 保存一条反馈记录
func (r *FeedbackRepositoryImpl) Save(fb *domainChat.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	var metaJSON string
	if fb.Meta != nil {
		data, _ := json.Marshal(fb.Meta)
		metaJSON = string(data)
	}

	query := `
		INSERT OR REPLACE INTO feedbacks (id, question, answer, score, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		fb.ID,
		fb.Question,
		fb.Answer,
		fb.Score,
		nullableString(metaJSON),
		fb.CreatedAt.UnixMilli(),
	)

	return err
}

// FindAll 查询全部反馈记录，按时间倒序
func (r *FeedbackRepositoryImpl) FindAll(limit, offset int) ([]*domainChat.Feedback, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, question, answer, score, meta, created_at
		FROM feedbacks
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainChat.Feedback
	for rows.Next() {
		var fb domainChat.Feedback
		var meta sql.NullString
		var createdAt int64

		if err := rows.Scan(&fb.ID, &fb.Question, &fb.Answer, &fb.Score, &meta, &createdAt); err != nil {
			return nil, err
		}

		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &fb.Meta)
		}
		fb.CreatedAt = time.UnixMilli(createdAt)
		results = append(results, &fb)
	}

	return results, rows.Err()
}
