package kb

import "time"

// 入库任务阶段常量
const (
	StageParse = "parse"
	StageEmbed = "embed"
)

// 任务状态常量
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// 默认配置
const (
	DefaultMaxRetries = 3
	DefaultPriority   = 0
)

// 重试延迟配置（指数退避）
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// IngestTask 文件入库流水线任务
// 同一文件同一阶段只有一条任务，由队列仓储的认领操作保证单消费者
type IngestTask struct {
	ID          int64
	FileID      string
	Stage       string // parse/embed
	Priority    int    // 数值越大越优先
	Status      string // pending/processing/completed/failed
	RetryCount  int
	MaxRetries  int
	CreatedAt   int64
	NextRetryAt int64 // Unix 时间戳，0 表示立即可执行
	LastError   string
}

// NewIngestTask 创建入库任务
func NewIngestTask(fileID, stage string) *IngestTask {
	return &IngestTask{
		FileID:     fileID,
		Stage:      stage,
		Priority:   DefaultPriority,
		Status:     TaskStatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().Unix(),
	}
}

// CanRetry 检查是否可以重试
func (t *IngestTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkCompleted 标记为完成
func (t *IngestTask) MarkCompleted() {
	t.Status = TaskStatusCompleted
}

// MarkFailed 标记失败，可重试时回到 pending 并设置下次重试时间
func (t *IngestTask) MarkFailed(err string) {
	t.RetryCount++
	t.LastError = err

	if t.CanRetry() {
		t.Status = TaskStatusPending
		delayIndex := t.RetryCount - 1
		if delayIndex >= len(retryDelays) {
			delayIndex = len(retryDelays) - 1
		}
		t.NextRetryAt = time.Now().Add(retryDelays[delayIndex]).Unix()
	} else {
		t.Status = TaskStatusFailed
	}
}

// QueueStats 入库队列统计
type QueueStats struct {
	PendingCount    int `json:"pending_count"`
	ProcessingCount int `json:"processing_count"`
	CompletedCount  int `json:"completed_count"`
	FailedCount     int `json:"failed_count"`
}
