package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/kbchat/backend/internal/domain/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConversation(ownerKey string) *chat.Conversation {
	return &chat.Conversation{
		Title:    "新对话",
		OwnerKey: ownerKey,
		Mode:     chat.ModeTest,
	}
}

func TestConversationRepository_SaveAndFind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewConversationRepository(db)

	conv := newTestConversation("key-a")
	conv.Memory = map[string]string{"name": "小李"}
	require.NoError(t, repo.Save(conv))
	assert.NotEmpty(t, conv.ID)

	found, err := repo.FindByID(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "新对话", found.Title)
	assert.Equal(t, "key-a", found.OwnerKey)
	assert.Equal(t, chat.ModeTest, found.Mode)
	assert.Equal(t, "小李", found.Memory["name"])
	assert.False(t, found.IsTitleGenerated)

	missing, err := repo.FindByID("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConversationRepository_FindByOwner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewConversationRepository(db)

	for i := 0; i < 3; i++ {
		conv := newTestConversation("key-a")
		conv.Title = fmt.Sprintf("对话 %d", i)
		require.NoError(t, repo.Save(conv))
	}
	require.NoError(t, repo.Save(newTestConversation("key-b")))

	owned, err := repo.FindByOwner("key-a", 10, 0)
	require.NoError(t, err)
	assert.Len(t, owned, 3)

	other, err := repo.FindByOwner("key-b", 10, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestConversationRepository_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	convRepo := NewConversationRepository(db)
	msgRepo := NewMessageRepository(db)

	conv := newTestConversation("key-a")
	require.NoError(t, convRepo.Save(conv))
	require.NoError(t, msgRepo.Save(&chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Content:        "你好",
	}))

	require.NoError(t, convRepo.Delete(conv.ID))

	found, err := convRepo.FindByID(conv.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	// 会话删除后消息一并删除
	messages, err := msgRepo.FindByConversation(conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMessageRepository_SaveAndFind(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)

	msg := &chat.Message{
		ConversationID: "conv-1",
		Role:           chat.RoleAssistant,
		Content:        "根据资料，答案如下",
		Metadata:       map[string]any{"used_kb": true, "hit_count": float64(2)},
		ContextJSON:    `[{"ref":"k1"}]`,
	}
	require.NoError(t, repo.Save(msg))
	assert.NotEmpty(t, msg.ID)

	found, err := repo.FindByID(msg.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, chat.RoleAssistant, found.Role)
	assert.Equal(t, true, found.Metadata["used_kb"])
	assert.Equal(t, `[{"ref":"k1"}]`, found.ContextJSON)
	assert.Nil(t, found.Score)
	assert.False(t, found.IsTraining)
}

func TestMessageRepository_FindRecent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(&chat.Message{
			ConversationID: "conv-1",
			Role:           chat.RoleUser,
			Content:        fmt.Sprintf("第 %d 条", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := repo.FindRecent("conv-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	// 取最近 3 条且按时间正序返回
	assert.Equal(t, "第 2 条", recent[0].Content)
	assert.Equal(t, "第 4 条", recent[2].Content)
}

func TestMessageRepository_UpdateScore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)

	msg := &chat.Message{ConversationID: "conv-1", Role: chat.RoleAssistant, Content: "回答"}
	require.NoError(t, repo.Save(msg))

	require.NoError(t, repo.UpdateScore(msg.ID, 5))

	found, err := repo.FindByID(msg.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Score)
	assert.Equal(t, 5, *found.Score)
}

func TestMessageRepository_MarkTrainingOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMessageRepository(db)

	msg := &chat.Message{ConversationID: "conv-1", Role: chat.RoleAssistant, Content: "回答"}
	require.NoError(t, repo.Save(msg))

	ok, err := repo.MarkTraining(msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// 已标记的消息不能重复标记
	ok, err = repo.MarkTraining(msg.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeedbackRepository_SaveAndFindAllMultiple(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFeedbackRepository(db)

	require.NoError(t, repo.Save(&chat.Feedback{
		Question: "发票抬头怎么改？",
		Answer:   "在设置页修改开票信息",
		Score:    9,
	}))
	require.NoError(t, repo.Save(&chat.Feedback{
		Question: "忘记密码怎么办？",
		Answer:   "通过邮箱找回",
		Score:    3,
	}))

	all, err := repo.FindAll(10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, fb := range all {
		assert.NotEmpty(t, fb.ID)
		assert.False(t, fb.CreatedAt.IsZero())
	}
}
