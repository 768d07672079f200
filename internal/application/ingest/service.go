// Package ingest 实现文件入库流水线：上传、解析、打标、确认、向量化
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/extract"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/vector"
)

// 业务错误
var (
	ErrFileNotFound  = errors.New("file not found")
	ErrChunkNotFound = errors.New("chunk not found")
	ErrInvalidState  = errors.New("file is not in a valid state for this operation")
	// ErrNoTags 确认入库要求至少一个标签
	ErrNoTags = errors.New("at least one tag is required before embedding")
)

// Extractor 文档抽取服务
type Extractor interface {
	Extract(ctx context.Context, filePath, mimeType string) (*extract.Result, error)
}

// Generator 文本生成器
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) *llm.Result
}

// Embedder 文本向量化服务
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex 向量库写入接口
type VectorIndex interface {
	Upsert(ctx context.Context, collection string, points []vector.Point) error
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter *vector.Filter) error
}

// Notifier 文件状态推送
type Notifier interface {
	NotifyFileStatus(fileID, status string, progress int, errMsg string)
}

// Service 文件入库服务
type Service struct {
	cfg       *config.Config
	files     kb.FileRepository
	chunks    kb.ChunkRepository
	queue     kb.IngestQueueRepository
	extractor Extractor
	generator Generator
	embedder  Embedder
	vectors   VectorIndex
	notifier  Notifier
	chunker   *Chunker
	logger    *slog.Logger
}

// NewService 创建文件入库服务
func NewService(
	cfg *config.Config,
	files kb.FileRepository,
	chunks kb.ChunkRepository,
	queue kb.IngestQueueRepository,
	extractor Extractor,
	generator Generator,
	embedder Embedder,
	vectors VectorIndex,
	notifier Notifier,
) *Service {
	return &Service{
		cfg:       cfg,
		files:     files,
		chunks:    chunks,
		queue:     queue,
		extractor: extractor,
		generator: generator,
		embedder:  embedder,
		vectors:   vectors,
		notifier:  notifier,
		chunker:   NewChunker(cfg.Ingest.ChunkTokens, cfg.Ingest.ChunkOverlapTokens),
		logger:    log.NewModuleLogger("ingest", "service"),
	}
}

// notify 推送文件状态，notifier 未配置时静默
func (s *Service) notify(fileID, status string, progress int, errMsg string) {
	if s.notifier != nil {
		s.notifier.NotifyFileStatus(fileID, status, progress, errMsg)
	}
}

// CreateFromUpload 接收上传文件：落盘、建档、排队解析
func (s *Service) CreateFromUpload(ctx context.Context, originalName, mimeType string, size int64, r io.Reader) (*kb.KnowledgeFile, error) {
	uploadDir := s.cfg.UploadDir()
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	storedName := uuid.New().String() + filepath.Ext(originalName)
	storagePath := filepath.Join(uploadDir, storedName)

	dst, err := os.Create(storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(dst, r)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if closeErr != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to close file: %w", closeErr)
	}
	if size <= 0 {
		size = written
	}

	if mimeType == "" {
		mimeType = detectMimeType(originalName)
	}

	file := &kb.KnowledgeFile{
		Filename:     storedName,
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
		StoragePath:  storagePath,
		Status:       kb.StatusUploaded,
		Progress:     kb.ProgressUploaded,
		Source:       kb.SourceUpload,
	}

	if err := s.files.Save(file); err != nil {
		os.Remove(storagePath)
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	if err := s.queue.Enqueue(kb.NewIngestTask(file.ID, kb.StageParse)); err != nil {
		return nil, fmt.Errorf("failed to enqueue parse task: %w", err)
	}

	s.logger.Info("File uploaded",
		"file_id", file.ID,
		"original_name", originalName,
		"size", size,
	)
	s.notify(file.ID, file.Status, file.Progress, "")

	return file, nil
}

// IngestFromPath 入库本地文件（投递目录回调）
func (s *Service) IngestFromPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dropped file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat dropped file: %w", err)
	}

	_, err = s.CreateFromUpload(context.Background(), filepath.Base(path), "", info.Size(), f)
	return err
}

// CreateFromText 从纯文本建档并直接进入向量化阶段
// 反馈晋升的问答对走这条路径，内容已备好，跳过解析与人工确认
func (s *Service) CreateFromText(ctx context.Context, title, text, source string, tags []string) (*kb.KnowledgeFile, error) {
	normalized := kb.NormalizeTags(tags)
	if len(normalized) == 0 {
		return nil, ErrNoTags
	}

	pieces, err := s.chunker.Split(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("text is empty")
	}

	file := &kb.KnowledgeFile{
		OriginalName: title,
		MimeType:     "text/markdown",
		Size:         int64(len(text)),
		Status:       kb.StatusUploaded,
		Progress:     kb.ProgressUploaded,
		Tags:         normalized,
		Source:       source,
	}
	if err := s.files.Save(file); err != nil {
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	chunks := make([]*kb.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &kb.Chunk{
			FileID:     file.ID,
			ChunkIndex: i,
			Text:       piece,
		}
	}
	if err := s.chunks.SaveChunks(chunks); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}

	if err := s.files.UpdateEnrichment(file.ID, normalized, "", len(chunks), kb.ProgressParsed); err != nil {
		return nil, fmt.Errorf("failed to update file record: %w", err)
	}

	// 沿状态机推进到 embedding 后排队向量化
	for _, step := range []struct {
		from, to string
		progress int
	}{
		{kb.StatusUploaded, kb.StatusParsing, kb.ProgressParsing},
		{kb.StatusParsing, kb.StatusTagged, kb.ProgressTagged},
		{kb.StatusTagged, kb.StatusEmbedding, kb.ProgressEmbedding},
	} {
		if _, err := s.files.TransitionStatus(file.ID, step.from, step.to, step.progress); err != nil {
			return nil, fmt.Errorf("failed to advance file state: %w", err)
		}
	}

	if err := s.queue.Enqueue(kb.NewIngestTask(file.ID, kb.StageEmbed)); err != nil {
		return nil, fmt.Errorf("failed to enqueue embed task: %w", err)
	}

	return s.files.FindByID(file.ID)
}

// RunParse 执行解析阶段：抽取文本、保存片段、生成标签与摘要
func (s *Service) RunParse(ctx context.Context, task *kb.IngestTask) error {
	file, err := s.files.FindByID(task.FileID)
	if err != nil {
		return fmt.Errorf("failed to load file: %w", err)
	}
	if file == nil {
		// 文件已删除，任务作废
		s.logger.Warn("Parse task references missing file", "file_id", task.FileID)
		return nil
	}

	ok, err := s.files.TransitionStatus(file.ID, kb.StatusUploaded, kb.StatusParsing, kb.ProgressParsing)
	if err != nil {
		return err
	}
	if !ok && file.Status != kb.StatusParsing {
		// 状态已被推进或文件已失败，放弃本次执行
		s.logger.Warn("Parse skipped, unexpected file status", "file_id", file.ID, "status", file.Status)
		return nil
	}
	s.notify(file.ID, kb.StatusParsing, kb.ProgressParsing, "")

	result, err := s.extractor.Extract(ctx, file.StoragePath, file.MimeType)
	if err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}

	chunks := make([]*kb.Chunk, 0, len(result.Chunks))
	var textParts []string
	for _, c := range result.Chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		chunks = append(chunks, &kb.Chunk{
			FileID:     file.ID,
			ChunkIndex: len(chunks),
			Text:       text,
		})
		textParts = append(textParts, text)
	}

	if len(chunks) > 0 {
		if err := s.chunks.SaveChunks(chunks); err != nil {
			return fmt.Errorf("failed to save chunks: %w", err)
		}
	}

	fullText := strings.Join(textParts, "\n\n")
	autoTags, summary := s.enrich(ctx, file.ID, fullText, result.Tags)

	progress := kb.ProgressParsed
	if len(chunks) == 0 {
		progress = kb.ProgressNoChunks
	}
	if err := s.files.UpdateEnrichment(file.ID, autoTags, summary, len(chunks), progress); err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}

	if _, err := s.files.TransitionStatus(file.ID, kb.StatusParsing, kb.StatusTagged, kb.ProgressTagged); err != nil {
		return err
	}

	s.logger.Info("File parsed",
		"file_id", file.ID,
		"chunks", len(chunks),
		"auto_tags", autoTags,
	)
	s.notify(file.ID, kb.StatusTagged, kb.ProgressTagged, "")

	return nil
}

// enrich 生成自动标签与摘要，失败时降级：标签回退到抽取服务建议，摘要留空
func (s *Service) enrich(ctx context.Context, fileID, fullText string, suggested []string) ([]string, string) {
	autoTags := kb.NormalizeTags(suggested)
	var summary string

	if fullText == "" {
		return autoTags, summary
	}

	tagResult := s.generator.Generate(ctx, &llm.Request{
		Prompt: BuildAutoTagPrompt(fullText, s.cfg.Ingest.TagInputCap),
		Meta:   llm.Meta{Task: llm.TaskKBAutoTag, Job: fileID, Source: "ingest"},
	})
	if llmTags := ParseTagResponse(tagResult.Text); len(llmTags) > 0 {
		autoTags = kb.NormalizeTags(append(llmTags, autoTags...))
	}

	summaryResult := s.generator.Generate(ctx, &llm.Request{
		Prompt: BuildSummaryPrompt(fullText, s.cfg.Ingest.SummaryInputCap),
		Meta:   llm.Meta{Task: llm.TaskKBSummary, Job: fileID, Source: "ingest"},
	})
	summary = strings.TrimSpace(summaryResult.Text)

	return autoTags, summary
}

// Confirm 确认标签并进入向量化阶段
// 没有任何标签（用户提交为空且无自动标签）时拒绝
func (s *Service) Confirm(ctx context.Context, fileID string, userTags []string) (*kb.KnowledgeFile, error) {
	file, err := s.files.FindByID(fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	if file.Status != kb.StatusTagged {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, file.Status)
	}

	tags := kb.NormalizeTags(userTags)
	if len(tags) == 0 {
		tags = file.AutoTags
	}
	if len(tags) == 0 {
		return nil, ErrNoTags
	}

	if err := s.files.UpdateTags(fileID, tags); err != nil {
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}

	ok, err := s.files.TransitionStatus(fileID, kb.StatusTagged, kb.StatusEmbedding, kb.ProgressEmbedding)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: file advanced concurrently", ErrInvalidState)
	}

	if err := s.queue.Enqueue(kb.NewIngestTask(fileID, kb.StageEmbed)); err != nil {
		return nil, fmt.Errorf("failed to enqueue embed task: %w", err)
	}

	s.notify(fileID, kb.StatusEmbedding, kb.ProgressEmbedding, "")

	return s.files.FindByID(fileID)
}

// RunEmbed 执行向量化阶段：片段嵌入并写入向量库
func (s *Service) RunEmbed(ctx context.Context, task *kb.IngestTask) error {
	file, err := s.files.FindByID(task.FileID)
	if err != nil {
		return fmt.Errorf("failed to load file: %w", err)
	}
	if file == nil {
		s.logger.Warn("Embed task references missing file", "file_id", task.FileID)
		return nil
	}
	if file.Status != kb.StatusEmbedding {
		s.logger.Warn("Embed skipped, unexpected file status", "file_id", file.ID, "status", file.Status)
		return nil
	}

	chunks, err := s.chunks.FindByFile(file.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}

		tagsJSON, _ := json.Marshal(file.ResolvedTags())

		points := make([]vector.Point, len(chunks))
		for i, c := range chunks {
			pointID := c.PointID
			if pointID == "" {
				pointID = uuid.New().String()
			}
			points[i] = vector.Point{
				ID:     pointID,
				Vector: vectors[i],
				Payload: map[string]interface{}{
					"text":        c.Text,
					"source":      file.SourceLabel(),
					"doc_id":      file.ID,
					"chunk_index": c.ChunkIndex,
					"tags":        string(tagsJSON),
					"title":       file.OriginalName,
				},
			}
		}

		if err := s.vectors.Upsert(ctx, s.cfg.Qdrant.KBCollection, points); err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}

		for i, c := range chunks {
			if c.PointID == points[i].ID {
				continue
			}
			if err := s.chunks.UpdatePointID(c.ID, points[i].ID); err != nil {
				return fmt.Errorf("failed to save point id: %w", err)
			}
		}
	}

	if _, err := s.files.TransitionStatus(file.ID, kb.StatusEmbedding, kb.StatusReady, kb.ProgressReady); err != nil {
		return err
	}

	s.logger.Info("File embedded", "file_id", file.ID, "points", len(chunks))
	s.notify(file.ID, kb.StatusReady, kb.ProgressReady, "")

	return nil
}

// MarkFileFailed 任务重试耗尽后把文件置为 failed
func (s *Service) MarkFileFailed(fileID, reason string) {
	ok, err := s.files.MarkFailed(fileID, reason)
	if err != nil {
		s.logger.Error("Failed to mark file failed", "file_id", fileID, "error", err)
		return
	}
	if ok {
		file, _ := s.files.FindByID(fileID)
		progress := 0
		if file != nil {
			progress = file.Progress
		}
		s.notify(fileID, kb.StatusFailed, progress, reason)
	}
}

// Get 查询单个文件
func (s *Service) Get(fileID string) (*kb.KnowledgeFile, error) {
	file, err := s.files.FindByID(fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	return file, nil
}

// List 分页查询文件
func (s *Service) List(filter kb.FileListFilter) ([]*kb.KnowledgeFile, int, error) {
	return s.files.List(filter)
}

// Chunks 查询文件的全部片段
func (s *Service) Chunks(fileID string) ([]*kb.Chunk, error) {
	if _, err := s.Get(fileID); err != nil {
		return nil, err
	}
	return s.chunks.FindByFile(fileID)
}

// Delete 删除文件：向量、片段、记录、磁盘文件同步清理
func (s *Service) Delete(ctx context.Context, fileID string) error {
	file, err := s.files.FindByID(fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return ErrFileNotFound
	}

	// 先清理向量库，失败则保留记录以便重试
	err = s.vectors.DeleteByFilter(ctx, s.cfg.Qdrant.KBCollection, &vector.Filter{
		Must: []vector.Match{{Key: "doc_id", Value: fileID}},
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	if _, err := s.chunks.DeleteByFile(fileID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	if err := s.files.Delete(fileID); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if file.StoragePath != "" {
		if err := os.Remove(file.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove stored file", "path", file.StoragePath, "error", err)
		}
	}

	s.logger.Info("File deleted", "file_id", fileID)

	return nil
}

// DeleteChunk 删除单个片段并同步清理其向量
func (s *Service) DeleteChunk(ctx context.Context, chunkID string) error {
	chunk, err := s.chunks.FindByID(chunkID)
	if err != nil {
		return err
	}
	if chunk == nil {
		return ErrChunkNotFound
	}

	if chunk.PointID != "" {
		err := s.vectors.DeleteByIDs(ctx, s.cfg.Qdrant.KBCollection, []string{chunk.PointID})
		if err != nil {
			return fmt.Errorf("failed to delete vector: %w", err)
		}
	}

	if err := s.chunks.Delete(chunkID); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}

	// 同步文件的片段计数
	file, err := s.files.FindByID(chunk.FileID)
	if err != nil || file == nil {
		return err
	}
	count, err := s.chunks.CountByFile(chunk.FileID)
	if err != nil {
		return err
	}
	return s.files.UpdateEnrichment(file.ID, file.AutoTags, file.Summary, count, file.Progress)
}

// Reingest 重新入库：清空旧的片段与向量，从解析阶段重跑
func (s *Service) Reingest(ctx context.Context, fileID string) (*kb.KnowledgeFile, error) {
	file, err := s.files.FindByID(fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	if file.StoragePath == "" {
		return nil, fmt.Errorf("%w: file has no stored source", ErrInvalidState)
	}

	err = s.vectors.DeleteByFilter(ctx, s.cfg.Qdrant.KBCollection, &vector.Filter{
		Must: []vector.Match{{Key: "doc_id", Value: fileID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete vectors: %w", err)
	}
	if _, err := s.chunks.DeleteByFile(fileID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}

	// 重置记录回到起点（显式重新入库不走状态机）
	file.Status = kb.StatusUploaded
	file.Progress = kb.ProgressUploaded
	file.AutoTags = nil
	file.Summary = ""
	file.ChunkCount = 0
	file.ErrorMessage = ""
	if err := s.files.Save(file); err != nil {
		return nil, fmt.Errorf("failed to reset file record: %w", err)
	}

	if err := s.queue.Enqueue(kb.NewIngestTask(fileID, kb.StageParse)); err != nil {
		return nil, fmt.Errorf("failed to enqueue parse task: %w", err)
	}

	s.notify(fileID, kb.StatusUploaded, kb.ProgressUploaded, "")

	return s.files.FindByID(fileID)
}

// QueueStats 入库队列统计
func (s *Service) QueueStats() (*kb.QueueStats, error) {
	return s.queue.Stats()
}

// RetryFailedTasks 重置失败任务
func (s *Service) RetryFailedTasks() (int, error) {
	return s.queue.ResetFailedTasks()
}

// detectMimeType 按扩展名推断 MIME 类型
func detectMimeType(name string) string {
	if mimeType := mime.TypeByExtension(filepath.Ext(name)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
