package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupTestDB 创建临时测试数据库
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	// 创建临时目录
	tmpDir, err := os.MkdirTemp("", "kbchat_test_*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := OpenDB(dbPath)
	require.NoError(t, err)

	require.NoError(t, InitSchema(db))

	// 清理函数
	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func newTestFile() *kb.KnowledgeFile {
	return &kb.KnowledgeFile{
		Filename:     "a1b2c3.pdf",
		OriginalName: "产品手册.pdf",
		MimeType:     "application/pdf",
		Size:         2048,
		StoragePath:  "/tmp/uploads/a1b2c3.pdf",
		Status:       kb.StatusUploaded,
		Progress:     kb.ProgressUploaded,
		Source:       kb.SourceUpload,
	}
}

func TestFileRepository_SaveAndFind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	file := newTestFile()
	err := repo.Save(file)
	require.NoError(t, err)
	assert.NotEmpty(t, file.ID, "保存后应自动生成 ID")

	found, err := repo.FindByID(file.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "产品手册.pdf", found.OriginalName)
	assert.Equal(t, kb.StatusUploaded, found.Status)
	assert.Equal(t, kb.ProgressUploaded, found.Progress)

	// 不存在的文件返回 (nil, nil)
	missing, err := repo.FindByID("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileRepository_TransitionStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	file := newTestFile()
	require.NoError(t, repo.Save(file))

	// 合法迁移：uploaded -> parsing
	ok, err := repo.TransitionStatus(file.ID, kb.StatusUploaded, kb.StatusParsing, kb.ProgressParsing)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusParsing, found.Status)
	assert.Equal(t, kb.ProgressParsing, found.Progress)

	// 同一迁移第二次执行应失败（状态已不是 uploaded）
	ok, err = repo.TransitionStatus(file.ID, kb.StatusUploaded, kb.StatusParsing, kb.ProgressParsing)
	require.NoError(t, err)
	assert.False(t, ok, "重复迁移应返回 false")

	// 非法迁移：parsing -> ready 不在状态机内
	ok, err = repo.TransitionStatus(file.ID, kb.StatusParsing, kb.StatusReady, kb.ProgressReady)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFileRepository_MarkFailed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	file := newTestFile()
	require.NoError(t, repo.Save(file))

	ok, err := repo.MarkFailed(file.ID, "解析服务不可用")
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.StatusFailed, found.Status)
	assert.Equal(t, "解析服务不可用", found.ErrorMessage)

	// 终态文件不能再次标记失败
	ok, err = repo.MarkFailed(file.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileRepository_UpdateEnrichmentAndTags(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	file := newTestFile()
	require.NoError(t, repo.Save(file))

	err := repo.UpdateEnrichment(file.ID, []string{"合同", "法务"}, "合同条款摘要", 12, kb.ProgressParsed)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateTags(file.ID, []string{"合同"}))

	found, err := repo.FindByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"合同", "法务"}, found.AutoTags)
	assert.Equal(t, []string{"合同"}, found.Tags)
	assert.Equal(t, "合同条款摘要", found.Summary)
	assert.Equal(t, 12, found.ChunkCount)
	assert.Equal(t, kb.ProgressParsed, found.Progress)
}

func TestFileRepository_List(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	names := []string{"年度报告.docx", "年度预算.xlsx", "入职指南.md"}
	for _, name := range names {
		f := newTestFile()
		f.OriginalName = name
		require.NoError(t, repo.Save(f))
	}

	// 无条件分页
	all, total, err := repo.List(kb.FileListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 2)

	// 按名称模糊匹配
	matched, total, err := repo.List(kb.FileListFilter{Query: "年度", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, matched, 2)

	// 按状态过滤
	byStatus, total, err := repo.List(kb.FileListFilter{Status: kb.StatusReady, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, byStatus)
}

func TestFileRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFileRepository(db)

	file := newTestFile()
	require.NoError(t, repo.Save(file))
	require.NoError(t, repo.Delete(file.ID))

	found, err := repo.FindByID(file.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
