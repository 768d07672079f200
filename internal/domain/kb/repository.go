package kb

// FileListFilter 文件列表查询条件
type FileListFilter struct {
	Query  string // 按原始文件名模糊匹配
	Status string // 按状态精确匹配
	Limit  int
	Offset int
}

// FileRepository 知识库文件仓储接口
type FileRepository interface {
	// Save 保存文件记录（创建或更新）
	Save(file *KnowledgeFile) error

	// FindByID 根据 ID 查找文件，不存在返回 (nil, nil)
	FindByID(id string) (*KnowledgeFile, error)

	// List 按条件分页查询文件
	List(filter FileListFilter) ([]*KnowledgeFile, int, error)

	// TransitionStatus 原子状态迁移：仅当当前状态等于 from 时更新为 to 并写入进度
	// 返回是否迁移成功（false 表示状态已被其他执行方推进）
	TransitionStatus(id, from, to string, progress int) (bool, error)

	// MarkFailed 将文件标记为 failed 并记录错误信息，进度保持不变
	// 仅在文件当前处于非终态时生效
	MarkFailed(id, errorMessage string) (bool, error)

	// UpdateEnrichment 写入解析结果（自动标签、摘要、片段数、进度）
	UpdateEnrichment(id string, autoTags []string, summary string, chunkCount int, progress int) error

	// UpdateTags 更新用户确认的标签
	UpdateTags(id string, tags []string) error

	// Delete 删除文件记录
	Delete(id string) error
}

// ChunkRepository 知识片段仓储接口
type ChunkRepository interface {
	// SaveChunks 批量保存片段（同一事务）
	SaveChunks(chunks []*Chunk) error

	// FindByID 根据 ID 查找片段，不存在返回 (nil, nil)
	FindByID(id string) (*Chunk, error)

	// FindByFile 按文件获取全部片段，按 chunk_index 升序
	FindByFile(fileID string) ([]*Chunk, error)

	// UpdatePointID 写入片段对应的向量 point ID
	UpdatePointID(id, pointID string) error

	// Delete 删除单个片段
	Delete(id string) error

	// DeleteByFile 删除文件的全部片段，返回删除数量
	DeleteByFile(fileID string) (int64, error)

	// CountByFile 统计文件的片段数量
	CountByFile(fileID string) (int, error)
}

// IngestQueueRepository 入库任务队列仓储接口
type IngestQueueRepository interface {
	// Enqueue 入队任务（同文件同阶段重复入队会重置该任务）
	Enqueue(task *IngestTask) error

	// ClaimTasks 认领待处理任务：原子地将 pending 置为 processing 后返回
	// 同一任务只会被一个调用方认领成功
	ClaimTasks(limit int) ([]*IngestTask, error)

	// UpdateTask 更新任务状态
	UpdateTask(task *IngestTask) error

	// ResetFailedTasks 重置失败任务为 pending，返回重置数量
	ResetFailedTasks() (int, error)

	// Stats 获取队列统计
	Stats() (*QueueStats, error)
}
