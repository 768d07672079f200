package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/backend/internal/application/training"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/interfaces/http/response"
)

// TrainHandler 反馈与晋升处理器
type TrainHandler struct {
	trainingService *training.Service
	logger          *slog.Logger
}

// NewTrainHandler 创建反馈与晋升处理器
func NewTrainHandler(trainingService *training.Service) *TrainHandler {
	return &TrainHandler{
		trainingService: trainingService,
		logger:          log.NewModuleLogger("training", "handler"),
	}
}

// FeedbackRequest 数值反馈请求
type FeedbackRequest struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
	// Score 0-10，达到阈值（默认 8）的问答写入知识库
	Score int            `json:"score"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// SubmitFeedback 提交数值反馈
// @Summary 提交问答反馈（0-10），高分问答自动沉淀进知识库
// @Tags 训练
// @Accept json
// @Produce json
// @Param request body FeedbackRequest true "反馈"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /train/feedback [post]
func (h *TrainHandler) SubmitFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 400, "question and answer are required")
		return
	}

	promoted, err := h.trainingService.SubmitFeedback(c.Request.Context(), req.Question, req.Answer, req.Score, req.Meta)
	if err != nil {
		response.Error(c, http.StatusBadRequest, 400, err.Error())
		return
	}

	response.Success(c, gin.H{"promoted": promoted})
}

// ListFeedback 分页查询反馈记录
// @Summary 分页查询反馈记录
// @Tags 训练
// @Produce json
// @Param limit query int false "每页条数，默认 50"
// @Param offset query int false "偏移量"
// @Success 200 {object} response.ResponseWithPage{data=[]chat.Feedback}
// @Failure 500 {object} response.ErrorResponse
// @Router /train/feedback [get]
func (h *TrainHandler) ListFeedback(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	records, err := h.trainingService.ListFeedback(limit, offset)
	if err != nil {
		h.logger.Error("List feedback failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "failed to list feedback")
		return
	}

	response.SuccessWithPage(c, records, limit, offset, len(records))
}

// EvaluateRequest 评估请求
type EvaluateRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	// Manual 人工评价："good" / "bad"，缺省走自动评分
	Manual *string `json:"manual,omitempty"`
}

// EvaluateMessage 评估一条助手消息并按规则晋升
// @Summary 评估助手消息并按规则晋升进知识库
// @Tags 训练
// @Accept json
// @Produce json
// @Param request body EvaluateRequest true "评估请求"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /train/evaluate [post]
func (h *TrainHandler) EvaluateMessage(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 400, "message_id is required")
		return
	}

	msg, err := h.trainingService.FindMessage(req.MessageID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, 500, "failed to load message")
		return
	}
	if msg == nil {
		response.Error(c, http.StatusNotFound, 404, "message not found")
		return
	}

	promoted, err := h.trainingService.EvaluateMessage(c.Request.Context(), msg, req.Manual)
	if err != nil {
		if errors.Is(err, training.ErrNotAssistantMessage) {
			response.Error(c, http.StatusBadRequest, 400, err.Error())
			return
		}
		h.logger.Error("Evaluate message failed", "message_id", req.MessageID, "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "internal error")
		return
	}

	response.Success(c, gin.H{"promoted": promoted})
}
