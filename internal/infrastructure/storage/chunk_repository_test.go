package storage

import (
	"fmt"
	"testing"

	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveTestChunks(t *testing.T, repo kb.ChunkRepository, fileID string, n int) []*kb.Chunk {
	t.Helper()

	chunks := make([]*kb.Chunk, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, &kb.Chunk{
			FileID:     fileID,
			ChunkIndex: i,
			Text:       fmt.Sprintf("第 %d 段内容", i),
		})
	}
	require.NoError(t, repo.SaveChunks(chunks))
	return chunks
}

func TestChunkRepository_SaveAndFind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChunkRepository(db)
	chunks := saveTestChunks(t, repo, "file-1", 3)

	for _, c := range chunks {
		assert.NotEmpty(t, c.ID, "保存后应自动生成 ID")
	}

	found, err := repo.FindByFile("file-1")
	require.NoError(t, err)
	require.Len(t, found, 3)
	for i, c := range found {
		assert.Equal(t, i, c.ChunkIndex, "应按 chunk_index 升序返回")
	}

	single, err := repo.FindByID(chunks[1].ID)
	require.NoError(t, err)
	require.NotNil(t, single)
	assert.Equal(t, "第 1 段内容", single.Text)
}

func TestChunkRepository_SameIndexReplaces(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChunkRepository(db)
	saveTestChunks(t, repo, "file-1", 2)

	// 同文件同序号重新写入应覆盖旧片段
	err := repo.SaveChunks([]*kb.Chunk{
		{FileID: "file-1", ChunkIndex: 1, Text: "重新解析后的内容"},
	})
	require.NoError(t, err)

	count, err := repo.CountByFile("file-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChunkRepository_UpdatePointID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChunkRepository(db)
	chunks := saveTestChunks(t, repo, "file-1", 1)

	require.NoError(t, repo.UpdatePointID(chunks[0].ID, "point-abc"))

	found, err := repo.FindByID(chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "point-abc", found.PointID)
}

func TestChunkRepository_DeleteByFile(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChunkRepository(db)
	saveTestChunks(t, repo, "file-1", 4)
	saveTestChunks(t, repo, "file-2", 2)

	deleted, err := repo.DeleteByFile("file-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	// 其他文件的片段不受影响
	count, err := repo.CountByFile("file-2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
