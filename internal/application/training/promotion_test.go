package training

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainChat "github.com/kbchat/backend/internal/domain/chat"
	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/llm"
	"github.com/kbchat/backend/internal/infrastructure/storage"
)

type fakeGenerator struct {
	byTask map[string]string
	calls  map[string]int
}

func (f *fakeGenerator) Generate(_ context.Context, req *llm.Request) *llm.Result {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[req.Meta.Task]++
	return &llm.Result{Text: f.byTask[req.Meta.Task], Driver: llm.DriverLocal}
}

type knowledgeCall struct {
	Title  string
	Text   string
	Source string
	Tags   []string
}

type fakeKnowledgeWriter struct {
	calls []knowledgeCall
}

func (f *fakeKnowledgeWriter) CreateFromText(_ context.Context, title, text, source string, tags []string) (*kb.KnowledgeFile, error) {
	f.calls = append(f.calls, knowledgeCall{Title: title, Text: text, Source: source, Tags: tags})
	return &kb.KnowledgeFile{ID: "kb-file-1"}, nil
}

type trainingFixture struct {
	svc       *Service
	generator *fakeGenerator
	knowledge *fakeKnowledgeWriter
	messages  domainChat.MessageRepository
	convID    string
	clock     int
}

func newTrainingFixture(t *testing.T) *trainingFixture {
	t.Helper()

	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "training_test.db"))
	require.NoError(t, err)
	require.NoError(t, storage.InitSchema(db))
	t.Cleanup(func() { db.Close() })

	convs := storage.NewConversationRepository(db)
	messages := storage.NewMessageRepository(db)
	feedbacks := storage.NewFeedbackRepository(db)

	conv := &domainChat.Conversation{OwnerKey: "key-1", Mode: domainChat.ModeTrain}
	require.NoError(t, convs.Save(conv))

	fx := &trainingFixture{
		generator: &fakeGenerator{byTask: map[string]string{}},
		knowledge: &fakeKnowledgeWriter{},
		messages:  messages,
		convID:    conv.ID,
	}
	fx.svc = NewService(config.NewConfig(), fx.generator, messages, feedbacks, fx.knowledge)
	return fx
}

// saveTurn 保存一轮问答，返回助手消息
// 时间戳显式递增，保证消息按保存顺序排序
func (fx *trainingFixture) saveTurn(t *testing.T, question, answer string) *domainChat.Message {
	t.Helper()
	fx.clock++
	require.NoError(t, fx.messages.Save(&domainChat.Message{
		ConversationID: fx.convID, Role: domainChat.RoleUser, Content: question,
		CreatedAt: time.Unix(1700000000, 0).Add(time.Duration(fx.clock) * time.Second),
	}))
	fx.clock++
	msg := &domainChat.Message{
		ConversationID: fx.convID, Role: domainChat.RoleAssistant, Content: answer,
		CreatedAt: time.Unix(1700000000, 0).Add(time.Duration(fx.clock) * time.Second),
	}
	require.NoError(t, fx.messages.Save(msg))
	return msg
}

func strPtr(s string) *string { return &s }

func TestShouldPromote_AllCombinations(t *testing.T) {
	tests := []struct {
		name   string
		manual *string
		auto   int
		want   bool
	}{
		{"人工好评直接晋升", strPtr("good"), 1, true},
		{"人工差评不晋升", strPtr("bad"), 5, false},
		{"无人工且自动达标", nil, 4, true},
		{"无人工且自动不达标", nil, 3, false},
		{"人工好评覆盖低自动分", strPtr("good"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldPromote(tt.manual, tt.auto, 4))
		})
	}
}

func TestParseScoreResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"纯JSON", `{"score": 4, "reason": "准确"}`, 4},
		{"夹杂说明文字", "评分如下：\n```json\n{\"score\": 5, \"reason\": \"完整\"}\n```\n以上。", 5},
		{"超出上限夹到5", `{"score": 9, "reason": ""}`, 5},
		{"负分夹到1", `{"score": -2, "reason": ""}`, 1},
		{"缺少score字段退回中性分", `{"reason": "只有理由"}`, 3},
		{"score为0退回中性分", `{"score": 0, "reason": ""}`, 3},
		{"非JSON退回中性分", "我觉得这个回答不错", 3},
		{"JSON不完整退回中性分", `{"score": 4, "reason": "未闭合`, 3},
		{"空响应退回中性分", "", 3},
		{"字符串里的花括号不干扰", `前缀 {"score": 2, "reason": "包含 } 字符"} 后缀`, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScoreResponse(tt.raw).Score)
		})
	}
}

func TestService_EvaluateMessage_ManualGoodSkipsScoring(t *testing.T) {
	fx := newTrainingFixture(t)
	msg := fx.saveTurn(t, "年假有几天？", "10 天。")

	promoted, err := fx.svc.EvaluateMessage(context.Background(), msg, strPtr("good"))
	require.NoError(t, err)
	assert.True(t, promoted)

	// 人工好评不触发自动评分
	assert.Zero(t, fx.generator.calls[llm.TaskAnswerScoring])
	require.Len(t, fx.knowledge.calls, 1)
	assert.Equal(t, SourceManual, fx.knowledge.calls[0].Source)
	assert.Equal(t, []string{"training", "manual"}, fx.knowledge.calls[0].Tags)
}

func TestService_EvaluateMessage_AutoScoreBoundary(t *testing.T) {
	fx := newTrainingFixture(t)

	fx.generator.byTask[llm.TaskAnswerScoring] = `{"score": 4, "reason": "达标"}`
	msg := fx.saveTurn(t, "问一", "答一")
	promoted, err := fx.svc.EvaluateMessage(context.Background(), msg, nil)
	require.NoError(t, err)
	assert.True(t, promoted)

	fx.generator.byTask[llm.TaskAnswerScoring] = `{"score": 3, "reason": "不达标"}`
	msg2 := fx.saveTurn(t, "问二", "答二")
	promoted, err = fx.svc.EvaluateMessage(context.Background(), msg2, nil)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Len(t, fx.knowledge.calls, 1)
}

func TestService_EvaluateMessage_ManualBadNeverPromotes(t *testing.T) {
	fx := newTrainingFixture(t)
	msg := fx.saveTurn(t, "问", "答")

	promoted, err := fx.svc.EvaluateMessage(context.Background(), msg, strPtr("bad"))
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Empty(t, fx.knowledge.calls)
}

func TestService_PromoteMessage_OnlyOnce(t *testing.T) {
	fx := newTrainingFixture(t)
	msg := fx.saveTurn(t, "年假有几天？", "10 天。")

	promoted, err := fx.svc.PromoteMessage(context.Background(), msg, "manual")
	require.NoError(t, err)
	assert.True(t, promoted)

	// 再次晋升被 is_training 标记拦下
	promoted, err = fx.svc.PromoteMessage(context.Background(), msg, "manual")
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Len(t, fx.knowledge.calls, 1)
}

func TestService_PromoteMessage_RejectsUserMessage(t *testing.T) {
	fx := newTrainingFixture(t)
	userMsg := &domainChat.Message{
		ConversationID: fx.convID, Role: domainChat.RoleUser, Content: "问题",
	}
	require.NoError(t, fx.messages.Save(userMsg))

	_, err := fx.svc.PromoteMessage(context.Background(), userMsg, "manual")
	assert.ErrorIs(t, err, ErrNotAssistantMessage)
}

func TestService_PromoteMessage_RewriteFallsBackToQA(t *testing.T) {
	fx := newTrainingFixture(t)
	msg := fx.saveTurn(t, "年假有几天？", "10 天。")

	// 改写模型无输出，退回原始问答形式
	promoted, err := fx.svc.PromoteMessage(context.Background(), msg, "auto")
	require.NoError(t, err)
	assert.True(t, promoted)
	require.Len(t, fx.knowledge.calls, 1)
	assert.Equal(t, "Q: 年假有几天？\nA: 10 天。", fx.knowledge.calls[0].Text)
	assert.Equal(t, SourceAuto, fx.knowledge.calls[0].Source)
}

func TestService_PromoteMessage_UsesRewrittenText(t *testing.T) {
	fx := newTrainingFixture(t)
	fx.generator.byTask[llm.TaskTrainingToKB] = "员工每年享有 10 天带薪年假。"
	msg := fx.saveTurn(t, "年假有几天？", "10 天。")

	promoted, err := fx.svc.PromoteMessage(context.Background(), msg, "manual")
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Equal(t, "员工每年享有 10 天带薪年假。", fx.knowledge.calls[0].Text)
	assert.Equal(t, "年假有几天？", fx.knowledge.calls[0].Title)
}

func TestService_SubmitFeedback_AboveThresholdWritesKB(t *testing.T) {
	fx := newTrainingFixture(t)

	promoted, err := fx.svc.SubmitFeedback(context.Background(), "年假有几天？", "10 天。", 9, map[string]any{"channel": "api"})
	require.NoError(t, err)
	assert.True(t, promoted)

	require.Len(t, fx.knowledge.calls, 1)
	call := fx.knowledge.calls[0]
	assert.Equal(t, "Q: 年假有几天？\nA: 10 天。", call.Text)
	assert.Equal(t, SourceAuto, call.Source)
	assert.Equal(t, "AutoTrain - user_feedback", call.Title)

	records, err := fx.svc.ListFeedback(10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 9, records[0].Score)
}

func TestService_SubmitFeedback_BelowThresholdOnlyRecords(t *testing.T) {
	fx := newTrainingFixture(t)

	promoted, err := fx.svc.SubmitFeedback(context.Background(), "问", "答", 5, nil)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Empty(t, fx.knowledge.calls)

	records, err := fx.svc.ListFeedback(10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestService_SubmitFeedback_RejectsOutOfRangeScore(t *testing.T) {
	fx := newTrainingFixture(t)

	_, err := fx.svc.SubmitFeedback(context.Background(), "问", "答", 11, nil)
	assert.Error(t, err)
	_, err = fx.svc.SubmitFeedback(context.Background(), "问", "答", -1, nil)
	assert.Error(t, err)
}
