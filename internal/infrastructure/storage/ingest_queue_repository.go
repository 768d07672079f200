package storage

import (
	"database/sql"
	"time"

	domainKB "github.com/kbchat/backend/internal/domain/kb"
)

// 确保 IngestQueueRepositoryImpl 实现了 domainKB.IngestQueueRepository 接口
var _ domainKB.IngestQueueRepository = (*IngestQueueRepositoryImpl)(nil)

// IngestQueueRepositoryImpl 入库任务队列仓储实现
type IngestQueueRepositoryImpl struct {
	db *sql.DB
}

// NewIngestQueueRepository 创建入库任务队列仓储实例
func NewIngestQueueRepository(db *sql.DB) domainKB.IngestQueueRepository {
	return &IngestQueueRepositoryImpl{db: db}
}

// Enqueue 入队任务
// (file_id, stage) 唯一，重复入队会重置该任务为 pending
func (r *IngestQueueRepositoryImpl) Enqueue(task *domainKB.IngestTask) error {
	query := `
		INSERT INTO kb_ingest_queue (
			file_id, stage, priority, status, retry_count, max_retries,
			created_at, next_retry_at, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, stage) DO UPDATE SET
			status = excluded.status,
			retry_count = 0,
			next_retry_at = NULL,
			last_error = NULL`

	_, err := r.db.Exec(
		query,
		task.FileID,
		task.Stage,
		task.Priority,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		task.CreatedAt,
		nullableInt64(task.NextRetryAt),
		task.LastError,
	)

	return err
}

// ClaimTasks 认领待处理任务
// 先以原子 UPDATE 把 pending 任务置为 processing，只有改到行的调用方获得任务，
// 多 worker 并发轮询时同一任务不会被重复执行
func (r *IngestQueueRepositoryImpl) ClaimTasks(limit int) ([]*domainKB.IngestTask, error) {
	now := time.Now().Unix()

	// 1. 选出可执行的候选任务
	selectQuery := `
		SELECT id FROM kb_ingest_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`

	rows, err := r.db.Query(selectQuery, now, limit)
	if err != nil {
		return nil, err
	}

	var candidateIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidateIDs = append(candidateIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 2. 逐个认领：UPDATE ... WHERE status='pending' 保证单消费者
	var claimed []*domainKB.IngestTask
	for _, id := range candidateIDs {
		result, err := r.db.Exec(
			`UPDATE kb_ingest_queue SET status = 'processing' WHERE id = ? AND status = 'pending'`,
			id,
		)
		if err != nil {
			return nil, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected != 1 {
			// 已被其他 worker 认领
			continue
		}

		task, err := r.getTask(id)
		if err != nil {
			return nil, err
		}
		if task != nil {
			claimed = append(claimed, task)
		}
	}

	return claimed, nil
}

// getTask 按主键读取任务
func (r *IngestQueueRepositoryImpl) getTask(id int64) (*domainKB.IngestTask, error) {
	query := `
		SELECT id, file_id, stage, priority, status, retry_count, max_retries,
		       created_at, next_retry_at, last_error
		FROM kb_ingest_queue
		WHERE id = ?`

	var task domainKB.IngestTask
	var nextRetryAt sql.NullInt64
	var lastError sql.NullString

	err := r.db.QueryRow(query, id).Scan(
		&task.ID,
		&task.FileID,
		&task.Stage,
		&task.Priority,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.CreatedAt,
		&nextRetryAt,
		&lastError,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if nextRetryAt.Valid {
		task.NextRetryAt = nextRetryAt.Int64
	}
	if lastError.Valid {
		task.LastError = lastError.String
	}

	return &task, nil
}

// UpdateTask 更新任务状态
func (r *IngestQueueRepositoryImpl) UpdateTask(task *domainKB.IngestTask) error {
	query := `
		UPDATE kb_ingest_queue
		SET priority = ?, status = ?, retry_count = ?, max_retries = ?,
		    next_retry_at = ?, last_error = ?
		WHERE id = ?`

	_, err := r.db.Exec(
		query,
		task.Priority,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		nullableInt64(task.NextRetryAt),
		task.LastError,
		task.ID,
	)

	return err
}

// ResetFailedTasks 重置失败的任务
func (r *IngestQueueRepositoryImpl) ResetFailedTasks() (int, error) {
	query := `
		UPDATE kb_ingest_queue
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, last_error = NULL
		WHERE status = 'failed'`

	result, err := r.db.Exec(query)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

// Stats 获取队列统计
func (r *IngestQueueRepositoryImpl) Stats() (*domainKB.QueueStats, error) {
	query := `
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) as pending_count,
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END) as processing_count,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) as completed_count,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failed_count
		FROM kb_ingest_queue`

	var stats domainKB.QueueStats
	var pending, processing, completed, failed sql.NullInt64

	err := r.db.QueryRow(query).Scan(&pending, &processing, &completed, &failed)
	if err != nil {
		return nil, err
	}

	if pending.Valid {
		stats.PendingCount = int(pending.Int64)
	}
	if processing.Valid {
		stats.ProcessingCount = int(processing.Int64)
	}
	if completed.Valid {
		stats.CompletedCount = int(completed.Int64)
	}
	if failed.Valid {
		stats.FailedCount = int(failed.Int64)
	}

	return &stats, nil
}

// nullableInt64 0 值存为 NULL
func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
