package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(400, 40)

	chunks, err := chunker.Split("员工请假需提前一天在系统中提交申请。")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "员工请假需提前一天在系统中提交申请。", chunks[0])
}

func TestChunker_EmptyText(t *testing.T) {
	chunker := NewChunker(400, 40)

	chunks, err := chunker.Split("   \n  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunker_LongTextSplitsWithOverlap(t *testing.T) {
	chunker := NewChunker(50, 10)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	chunks, err := chunker.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// 每段不超过 token 预算
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunker.CountTokens(chunk), 50)
	}

	// 相邻片段有重叠内容
	assert.Contains(t, chunks[1], chunks[0][len(chunks[0])-10:])
}

func TestChunker_InvalidConfigFallsBack(t *testing.T) {
	chunker := NewChunker(0, -1)
	assert.Equal(t, 400, chunker.chunkTokens)
	assert.Equal(t, 0, chunker.overlapTokens)

	// 重叠不能大于等于片段预算
	chunker = NewChunker(100, 100)
	assert.Equal(t, 0, chunker.overlapTokens)
}
