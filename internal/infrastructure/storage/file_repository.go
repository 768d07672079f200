package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domainKB "github.com/kbchat/backend/internal/domain/kb"
	"github.com/google/uuid"
)

// 确保 FileRepositoryImpl 实现了 domainKB.FileRepository 接口
var _ domainKB.FileRepository = (*FileRepositoryImpl)(nil)

// FileRepositoryImpl 知识库文件仓储实现
type FileRepositoryImpl struct {
	db *sql.DB
}

// NewFileRepository 创建知识库文件仓储实例
func NewFileRepository(db *sql.DB) domainKB.FileRepository {
	return &FileRepositoryImpl{db: db}
}

const fileColumns = `id, filename, original_name, mime_type, size, storage_path,
	status, progress, tags, auto_tags, summary, chunk_count, error_message,
	source, created_at, updated_at`

// Save 保存文件记录（创建或更新）
func (r *FileRepositoryImpl) Save(file *domainKB.KnowledgeFile) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	file.UpdatedAt = time.Now()

	tagsJSON, _ := json.Marshal(file.Tags)
	autoTagsJSON, _ := json.Marshal(file.AutoTags)

	query := `
		INSERT OR REPLACE INTO kb_files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		file.ID,
		file.Filename,
		file.OriginalName,
		file.MimeType,
		file.Size,
		file.StoragePath,
		file.Status,
		file.Progress,
		string(tagsJSON),
		string(autoTagsJSON),
		file.Summary,
		file.ChunkCount,
		file.ErrorMessage,
		file.Source,
		file.CreatedAt.UnixMilli(),
		file.UpdatedAt.UnixMilli(),
	)

	return err
}

// FindByID 根据 ID 查找文件
func (r *FileRepositoryImpl) FindByID(id string) (*domainKB.KnowledgeFile, error) {
	query := `SELECT ` + fileColumns + ` FROM kb_files WHERE id = ?`
	return r.scanFile(r.db.QueryRow(query, id))
}

// List 按条件分页查询文件
func (r *FileRepositoryImpl) List(filter domainKB.FileListFilter) ([]*domainKB.KnowledgeFile, int, error) {
	where := "WHERE 1=1"
	args := []any{}

	if filter.Query != "" {
		where += " AND original_name LIKE ?"
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM kb_files " + where
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + fileColumns + ` FROM kb_files ` + where + `
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*domainKB.KnowledgeFile
	for rows.Next() {
		file, err := r.scanFileRow(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, file)
	}

	return results, total, rows.Err()
}

// TransitionStatus 原子状态迁移：仅当当前状态等于 from 时更新
// 并发重复派发同一阶段时，只有一个执行方能迁移成功
func (r *FileRepositoryImpl) TransitionStatus(id, from, to string, progress int) (bool, error) {
	if !domainKB.CanTransition(from, to) {
		return false, fmt.Errorf("invalid status transition: %s -> %s", from, to)
	}

	query := `
		UPDATE kb_files
		SET status = ?, progress = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.Exec(query, to, progress, time.Now().UnixMilli(), id, from)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// MarkFailed 将文件标记为 failed 并记录错误信息，进度保持不变
func (r *FileRepositoryImpl) MarkFailed(id, errorMessage string) (bool, error) {
	query := `
		UPDATE kb_files
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`

	result, err := r.db.Exec(
		query,
		domainKB.StatusFailed,
		errorMessage,
		time.Now().UnixMilli(),
		id,
		domainKB.StatusReady,
		domainKB.StatusFailed,
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

// UpdateEnrichment 写入解析结果（自动标签、摘要、片段数、进度）
func (r *FileRepositoryImpl) UpdateEnrichment(id string, autoTags []string, summary string, chunkCount int, progress int) error {
	autoTagsJSON, _ := json.Marshal(autoTags)

	query := `
		UPDATE kb_files
		SET auto_tags = ?, summary = ?, chunk_count = ?, progress = ?, updated_at = ?
		WHERE id = ?`

	_, err := r.db.Exec(query, string(autoTagsJSON), summary, chunkCount, progress, time.Now().UnixMilli(), id)
	return err
}

// UpdateTags 更新用户确认的标签
func (r *FileRepositoryImpl) UpdateTags(id string, tags []string) error {
	tagsJSON, _ := json.Marshal(tags)

	query := `UPDATE kb_files SET tags = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, string(tagsJSON), time.Now().UnixMilli(), id)
	return err
}

// Delete 删除文件记录
func (r *FileRepositoryImpl) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM kb_files WHERE id = ?`, id)
	return err
}

// rowScanner 兼容 sql.Row 与 sql.Rows 的扫描接口
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFile 扫描单行数据到 KnowledgeFile
func (r *FileRepositoryImpl) scanFile(row *sql.Row) (*domainKB.KnowledgeFile, error) {
	file, err := r.scanFileRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (r *FileRepositoryImpl) scanFileRow(row rowScanner) (*domainKB.KnowledgeFile, error) {
	var file domainKB.KnowledgeFile
	var tagsJSON, autoTagsJSON, summary, errorMessage sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&file.ID,
		&file.Filename,
		&file.OriginalName,
		&file.MimeType,
		&file.Size,
		&file.StoragePath,
		&file.Status,
		&file.Progress,
		&tagsJSON,
		&autoTagsJSON,
		&summary,
		&file.ChunkCount,
		&errorMessage,
		&file.Source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &file.Tags)
	}
	if autoTagsJSON.Valid {
		json.Unmarshal([]byte(autoTagsJSON.String), &file.AutoTags)
	}
	if summary.Valid {
		file.Summary = summary.String
	}
	if errorMessage.Valid {
		file.ErrorMessage = errorMessage.String
	}
	file.CreatedAt = time.UnixMilli(createdAt)
	file.UpdatedAt = time.UnixMilli(updatedAt)

	return &file, nil
}
