package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/panjf2000/ants/v2"
)

// Worker 入库流水线后台执行器
// 轮询任务队列，认领后投入协程池执行；任务失败按退避重试，
// 重试耗尽后把文件置为 failed
type Worker struct {
	svc   *Service
	queue kb.IngestQueueRepository

	pollInterval time.Duration
	batchSize    int
	workerCount  int

	pool      *ants.Pool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	taskWg    sync.WaitGroup
	isRunning bool
	mu        sync.Mutex

	logger *slog.Logger
}

// NewWorker 创建后台执行器
func NewWorker(cfg *config.Config, svc *Service, queue kb.IngestQueueRepository) *Worker {
	pollInterval := cfg.Ingest.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.Ingest.BatchSize
	if batchSize <= 0 {
		batchSize = 4
	}
	workerCount := cfg.Ingest.WorkerCount
	if workerCount <= 0 {
		workerCount = 2
	}

	return &Worker{
		svc:          svc,
		queue:        queue,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		workerCount:  workerCount,
		logger:       log.NewModuleLogger("ingest", "worker"),
	}
}

// Start 启动后台执行器
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return nil
	}

	pool, err := ants.NewPool(w.workerCount)
	if err != nil {
		return err
	}

	w.pool = pool
	w.stopChan = make(chan struct{})
	w.isRunning = true

	w.wg.Add(1)
	go w.pollLoop()

	w.logger.Info("Ingest worker started",
		"workers", w.workerCount,
		"poll_interval", w.pollInterval,
	)

	return nil
}

// Stop 停止执行器，等待在途任务完成
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
	w.taskWg.Wait()
	w.pool.Release()

	w.logger.Info("Ingest worker stopped")
}

// pollLoop 轮询循环
func (w *Worker) pollLoop() {
	defer w.wg.Done()

	// 启动后立即拉一次，避免等待首个 tick
	w.dispatch()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.dispatch()
		}
	}
}

// dispatch 认领一批任务并投入协程池
func (w *Worker) dispatch() {
	tasks, err := w.queue.ClaimTasks(w.batchSize)
	if err != nil {
		w.logger.Error("Failed to claim tasks", "error", err)
		return
	}

	for _, task := range tasks {
		task := task
		w.taskWg.Add(1)

		err := w.pool.Submit(func() {
			defer w.taskWg.Done()
			w.runTask(task)
		})
		if err != nil {
			w.taskWg.Done()
			w.logger.Error("Failed to submit task", "task_id", task.ID, "error", err)
			// 放回队列等待下一轮
			task.Status = kb.TaskStatusPending
			if updateErr := w.queue.UpdateTask(task); updateErr != nil {
				w.logger.Error("Failed to requeue task", "task_id", task.ID, "error", updateErr)
			}
		}
	}
}

// runTask 执行单个任务并落盘结果
func (w *Worker) runTask(task *kb.IngestTask) {
	ctx := context.Background()

	var err error
	switch task.Stage {
	case kb.StageParse:
		err = w.svc.RunParse(ctx, task)
	case kb.StageEmbed:
		err = w.svc.RunEmbed(ctx, task)
	default:
		w.logger.Error("Unknown task stage", "task_id", task.ID, "stage", task.Stage)
		task.MarkCompleted()
		if updateErr := w.queue.UpdateTask(task); updateErr != nil {
			w.logger.Error("Failed to update task", "task_id", task.ID, "error", updateErr)
		}
		return
	}

	if err == nil {
		task.MarkCompleted()
	} else {
		w.logger.Warn("Task failed",
			"task_id", task.ID,
			"file_id", task.FileID,
			"stage", task.Stage,
			"retry_count", task.RetryCount,
			"error", err,
		)
		task.MarkFailed(err.Error())

		// 重试耗尽，文件进入 failed 终态
		if task.Status == kb.TaskStatusFailed {
			w.svc.MarkFileFailed(task.FileID, err.Error())
		}
	}

	if updateErr := w.queue.UpdateTask(task); updateErr != nil {
		w.logger.Error("Failed to update task", "task_id", task.ID, "error", updateErr)
	}
}
