package ingest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/extract"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/storage"
	"github.com/kbchat/backend/internal/infrastructure/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor 返回预设抽取结果
type fakeExtractor struct {
	result *extract.Result
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, filePath, mimeType string) (*extract.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeGenerator 按任务类型返回预设文本
type fakeGenerator struct {
	responses map[string]string
}

func (f *fakeGenerator) Generate(ctx context.Context, req *llm.Request) *llm.Result {
	return &llm.Result{Text: f.responses[req.Meta.Task], Driver: llm.DriverLocal}
}

// fakeEmbedder 返回固定维度向量
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

// fakeVectorIndex 记录向量库操作
type fakeVectorIndex struct {
	mu       sync.Mutex
	upserted map[string][]vector.Point
	deleted  []string
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{upserted: make(map[string][]vector.Point)}
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted[collection] = append(f.upserted[collection], points...)
	return nil
}

func (f *fakeVectorIndex) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeVectorIndex) DeleteByFilter(ctx context.Context, collection string, filter *vector.Filter) error {
	return nil
}

// fakeNotifier 记录状态推送
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) NotifyFileStatus(fileID, status string, progress int, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, status)
}

type serviceFixture struct {
	svc      *Service
	db       *sql.DB
	files    kb.FileRepository
	chunks   kb.ChunkRepository
	queue    kb.IngestQueueRepository
	vectors  *fakeVectorIndex
	notifier *fakeNotifier
}

func setupService(t *testing.T, extractor Extractor, generator Generator) *serviceFixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.OpenDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, storage.InitSchema(db))
	t.Cleanup(func() { db.Close() })

	cfg := config.NewConfig()
	cfg.Ingest.DataDir = t.TempDir()

	files := storage.NewFileRepository(db)
	chunks := storage.NewChunkRepository(db)
	queue := storage.NewIngestQueueRepository(db)
	vectors := newFakeVectorIndex()
	notifier := &fakeNotifier{}

	svc := NewService(cfg, files, chunks, queue, extractor, generator, &fakeEmbedder{}, vectors, notifier)

	return &serviceFixture{
		svc:      svc,
		db:       db,
		files:    files,
		chunks:   chunks,
		queue:    queue,
		vectors:  vectors,
		notifier: notifier,
	}
}

func defaultExtractor() *fakeExtractor {
	return &fakeExtractor{
		result: &extract.Result{
			Chunks: []extract.Chunk{
				{Text: "第一条：请假需提前申请。", Index: 0},
				{Text: "第二条：报销需附发票。", Index: 1},
			},
			Tags: []string{"制度"},
		},
	}
}

func defaultGenerator() *fakeGenerator {
	return &fakeGenerator{
		responses: map[string]string{
			llm.TaskKBAutoTag: `["hr","考勤"]`,
			llm.TaskKBSummary: "公司考勤与报销制度说明。",
		},
	}
}

func uploadTestFile(t *testing.T, fx *serviceFixture) *kb.KnowledgeFile {
	t.Helper()

	file, err := fx.svc.CreateFromUpload(
		context.Background(),
		"员工手册.pdf", "application/pdf", 0,
		strings.NewReader("%PDF-1.4 fake content"),
	)
	require.NoError(t, err)
	return file
}

func claimOne(t *testing.T, fx *serviceFixture) *kb.IngestTask {
	t.Helper()

	tasks, err := fx.queue.ClaimTasks(1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestService_FullPipeline(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())
	ctx := context.Background()

	// 1. 上传：uploaded/10，排队解析
	file := uploadTestFile(t, fx)
	assert.Equal(t, kb.StatusUploaded, file.Status)
	assert.Equal(t, kb.ProgressUploaded, file.Progress)
	assert.FileExists(t, file.StoragePath)

	// 2. 解析：tagged/75，片段与自动标签落库
	task := claimOne(t, fx)
	assert.Equal(t, kb.StageParse, task.Stage)
	require.NoError(t, fx.svc.RunParse(ctx, task))

	file, err := fx.files.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusTagged, file.Status)
	assert.Equal(t, kb.ProgressTagged, file.Progress)
	assert.Equal(t, 2, file.ChunkCount)
	assert.Contains(t, file.AutoTags, "hr")
	assert.Contains(t, file.AutoTags, "制度")
	assert.Equal(t, "公司考勤与报销制度说明。", file.Summary)

	// 3. 确认：embedding/80，排队向量化
	file, err = fx.svc.Confirm(ctx, file.ID, []string{"HR", "制度"})
	require.NoError(t, err)
	assert.Equal(t, kb.StatusEmbedding, file.Status)
	assert.Equal(t, []string{"hr", "制度"}, file.Tags)

	// 4. 向量化：ready/100，point id 回写
	task = claimOne(t, fx)
	assert.Equal(t, kb.StageEmbed, task.Stage)
	require.NoError(t, fx.svc.RunEmbed(ctx, task))

	file, err = fx.files.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusReady, file.Status)
	assert.Equal(t, kb.ProgressReady, file.Progress)

	chunks, err := fx.chunks.FindByFile(file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.NotEmpty(t, c.PointID)
	}

	// 向量 payload 携带来源与归属
	points := fx.vectors.upserted["kb"]
	require.Len(t, points, 2)
	assert.Equal(t, "员工手册.pdf", points[0].Payload["source"])
	assert.Equal(t, file.ID, points[0].Payload["doc_id"])

	// 状态推送覆盖各阶段
	assert.Contains(t, fx.notifier.events, kb.StatusParsing)
	assert.Contains(t, fx.notifier.events, kb.StatusTagged)
	assert.Contains(t, fx.notifier.events, kb.StatusReady)
}

func TestService_ConfirmRequiresTags(t *testing.T) {
	// 模型与抽取服务都没给出标签
	extractor := &fakeExtractor{result: &extract.Result{
		Chunks: []extract.Chunk{{Text: "内容", Index: 0}},
	}}
	generator := &fakeGenerator{responses: map[string]string{}}

	fx := setupService(t, extractor, generator)
	ctx := context.Background()

	file := uploadTestFile(t, fx)
	require.NoError(t, fx.svc.RunParse(ctx, claimOne(t, fx)))

	// 无标签确认被拒绝，状态停在 tagged
	_, err := fx.svc.Confirm(ctx, file.ID, nil)
	assert.ErrorIs(t, err, ErrNoTags)

	file, err = fx.files.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusTagged, file.Status)

	// 用户补充标签后放行
	file, err = fx.svc.Confirm(ctx, file.ID, []string{"临时"})
	require.NoError(t, err)
	assert.Equal(t, kb.StatusEmbedding, file.Status)
}

func TestService_ConfirmRejectsWrongState(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())

	file := uploadTestFile(t, fx)

	// uploaded 状态不能确认
	_, err := fx.svc.Confirm(context.Background(), file.ID, []string{"hr"})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = fx.svc.Confirm(context.Background(), "no-such-file", []string{"hr"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestService_ParseFailurePreservesExtractError(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("extract service returned status 422: unsupported file type")}
	fx := setupService(t, extractor, defaultGenerator())

	file := uploadTestFile(t, fx)

	err := fx.svc.RunParse(context.Background(), claimOne(t, fx))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")

	// 重试耗尽后文件置为 failed
	fx.svc.MarkFileFailed(file.ID, err.Error())

	file, lookupErr := fx.files.FindByID(file.ID)
	require.NoError(t, lookupErr)
	assert.Equal(t, kb.StatusFailed, file.Status)
	assert.Contains(t, file.ErrorMessage, "unsupported file type")
	assert.Contains(t, fx.notifier.events, kb.StatusFailed)
}

func TestService_ParseWithNoChunks(t *testing.T) {
	extractor := &fakeExtractor{result: &extract.Result{Tags: []string{"空文档"}}}
	fx := setupService(t, extractor, &fakeGenerator{responses: map[string]string{}})

	file := uploadTestFile(t, fx)
	require.NoError(t, fx.svc.RunParse(context.Background(), claimOne(t, fx)))

	file, err := fx.files.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusTagged, file.Status)
	assert.Equal(t, 0, file.ChunkCount)
}

func TestService_CreateFromText(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())
	ctx := context.Background()

	file, err := fx.svc.CreateFromText(ctx, "AutoTrain - user_feedback",
		"Q: 发票抬头怎么改？\nA: 在设置页修改开票信息。",
		kb.SourceChatTrain, []string{"training", "user_feedback"})
	require.NoError(t, err)
	assert.Equal(t, kb.StatusEmbedding, file.Status)
	assert.Equal(t, kb.SourceChatTrain, file.Source)

	// 直接进入向量化阶段
	task := claimOne(t, fx)
	assert.Equal(t, kb.StageEmbed, task.Stage)
	require.NoError(t, fx.svc.RunEmbed(ctx, task))

	points := fx.vectors.upserted["kb"]
	require.NotEmpty(t, points)
	assert.Equal(t, kb.SourceChatTrain, points[0].Payload["source"])

	// 无标签拒绝
	_, err = fx.svc.CreateFromText(ctx, "t", "text", kb.SourceChatTrain, nil)
	assert.ErrorIs(t, err, ErrNoTags)
}

func TestService_TrainingSourcePropagatedToPayload(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())
	ctx := context.Background()

	for _, source := range []string{"train_auto", "train_manual"} {
		_, err := fx.svc.CreateFromText(ctx, "AutoTrain - user_feedback",
			"Q: 报销周期多久？\nA: 每月 15 日前提交，月底到账。",
			source, []string{"training"})
		require.NoError(t, err)
		require.NoError(t, fx.svc.RunEmbed(ctx, claimOne(t, fx)))

		points := fx.vectors.upserted["kb"]
		require.NotEmpty(t, points)
		// 来源值原样写入 payload，而不是文件标题
		assert.Equal(t, source, points[len(points)-1].Payload["source"])
		fx.vectors.upserted["kb"] = nil
	}
}

func TestService_DeleteChunkSyncsVectorAndCount(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())
	ctx := context.Background()

	file := uploadTestFile(t, fx)
	require.NoError(t, fx.svc.RunParse(ctx, claimOne(t, fx)))
	_, err := fx.svc.Confirm(ctx, file.ID, []string{"hr"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.RunEmbed(ctx, claimOne(t, fx)))

	chunks, err := fx.chunks.FindByFile(file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	require.NoError(t, fx.svc.DeleteChunk(ctx, chunks[0].ID))

	// 向量同步删除
	assert.Equal(t, []string{chunks[0].PointID}, fx.vectors.deleted)

	file, err = fx.files.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, file.ChunkCount)
}

func TestService_Reingest(t *testing.T) {
	fx := setupService(t, defaultExtractor(), defaultGenerator())
	ctx := context.Background()

	file := uploadTestFile(t, fx)
	require.NoError(t, fx.svc.RunParse(ctx, claimOne(t, fx)))
	_, err := fx.svc.Confirm(ctx, file.ID, []string{"hr"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.RunEmbed(ctx, claimOne(t, fx)))

	file, err = fx.svc.Reingest(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusUploaded, file.Status)
	assert.Equal(t, 0, file.ChunkCount)
	assert.Empty(t, file.AutoTags)

	// 旧片段被清空，解析任务重新排队
	chunks, err := fx.chunks.FindByFile(file.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	task := claimOne(t, fx)
	assert.Equal(t, kb.StageParse, task.Stage)
}
