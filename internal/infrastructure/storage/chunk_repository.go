package storage

import (
	"database/sql"
	"time"

	domainKB "github.com/kbchat/backend/internal/domain/kb"
	"github.com/google/uuid"
)

// 确保 ChunkRepositoryImpl 实现了 domainKB.ChunkRepository 接口
var _ domainKB.ChunkRepository = (*ChunkRepositoryImpl)(nil)

// ChunkRepositoryImpl 知识片段仓储实现
type ChunkRepositoryImpl struct {
	db *sql.DB
}

// NewChunkRepository 创建知识片段仓储实例
func NewChunkRepository(db *sql.DB) domainKB.ChunkRepository {
	return &ChunkRepositoryImpl{db: db}
}

// SaveChunks 批量保存片段（同一事务）
func (r *ChunkRepositoryImpl) SaveChunks(chunks []*domainKB.Chunk) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO kb_chunks (
			id, file_id, chunk_index, text, point_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.New().String()
		}
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now()
		}

		_, err := stmt.Exec(
			chunk.ID,
			chunk.FileID,
			chunk.ChunkIndex,
			chunk.Text,
			chunk.PointID,
			chunk.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FindByID 根据 ID 查找片段
func (r *ChunkRepositoryImpl) FindByID(id string) (*domainKB.Chunk, error) {
	query := `
		SELECT id, file_id, chunk_index, text, point_id, created_at
		FROM kb_chunks
		WHERE id = ?`

	var chunk domainKB.Chunk
	var pointID sql.NullString
	var createdAt int64

	err := r.db.QueryRow(query, id).Scan(
		&chunk.ID,
		&chunk.FileID,
		&chunk.ChunkIndex,
		&chunk.Text,
		&pointID,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if pointID.Valid {
		chunk.PointID = pointID.String
	}
	chunk.CreatedAt = time.UnixMilli(createdAt)

	return &chunk, nil
}

// FindByFile 按文件获取全部片段，按 chunk_index 升序
func (r *ChunkRepositoryImpl) FindByFile(fileID string) ([]*domainKB.Chunk, error) {
	query := `
		SELECT id, file_id, chunk_index, text, point_id, created_at
		FROM kb_chunks
		WHERE file_id = ?
		ORDER BY chunk_index`

	rows, err := r.db.Query(query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainKB.Chunk
	for rows.Next() {
		var chunk domainKB.Chunk
		var pointID sql.NullString
		var createdAt int64

		err := rows.Scan(
			&chunk.ID,
			&chunk.FileID,
			&chunk.ChunkIndex,
			&chunk.Text,
			&pointID,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		if pointID.Valid {
			chunk.PointID = pointID.String
		}
		chunk.CreatedAt = time.UnixMilli(createdAt)

		results = append(results, &chunk)
	}

	return results, rows.Err()
}

// UpdatePointID 写入片段对应的向量 point ID
func (r *ChunkRepositoryImpl) UpdatePointID(id, pointID string) error {
	query := `UPDATE kb_chunks SET point_id = ? WHERE id = ?`
	_, err := r.db.Exec(query, pointID, id)
	return err
}

// Delete 删除单个片段
func (r *ChunkRepositoryImpl) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM kb_chunks WHERE id = ?`, id)
	return err
}

// DeleteByFile 删除文件的全部片段
func (r *ChunkRepositoryImpl) DeleteByFile(fileID string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM kb_chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByFile 统计文件的片段数量
func (r *ChunkRepositoryImpl) CountByFile(fileID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM kb_chunks WHERE file_id = ?`, fileID).Scan(&count)
	return count, err
}
