package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	appChat "github.com/kbchat/backend/internal/application/chat"
	"github.com/kbchat/backend/internal/application/query"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/interfaces/http/middleware"
	"github.com/kbchat/backend/internal/interfaces/http/response"
)

// ChatHandler 会话处理器
type ChatHandler struct {
	chatService *appChat.Service
	logger      *slog.Logger
}

// NewChatHandler 创建会话处理器
func NewChatHandler(chatService *appChat.Service) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      log.NewModuleLogger("chat", "handler"),
	}
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Title string `json:"title"`
	// Mode 会话模式：test（默认）或 train
	Mode string `json:"mode"`
}

// CreateConversation 创建会话
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body CreateConversationRequest false "创建请求"
// @Success 201 {object} response.Response{data=chat.Conversation}
// @Failure 400 {object} response.ErrorResponse
// @Router /conversations [post]
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, 400, "invalid request body")
			return
		}
	}

	conv, err := h.chatService.CreateConversation(middleware.OwnerKey(c), req.Title, req.Mode)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	response.Created(c, conv)
}

// ListConversations 列出当前 Key 的会话
// @Summary 列出会话
// @Tags 会话
// @Produce json
// @Param limit query int false "每页条数，默认 20"
// @Param offset query int false "偏移量"
// @Success 200 {object} response.ResponseWithPage{data=[]chat.Conversation}
// @Failure 500 {object} response.ErrorResponse
// @Router /conversations [get]
func (h *ChatHandler) ListConversations(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	conversations, err := h.chatService.ListConversations(middleware.OwnerKey(c), limit, offset)
	if err != nil {
		h.logger.Error("List conversations failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "failed to list conversations")
		return
	}

	response.SuccessWithPage(c, conversations, limit, offset, len(conversations))
}

// GetConversation 查询会话
// @Summary 查询会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} response.Response{data=chat.Conversation}
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id} [get]
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.chatService.GetConversation(c.Param("id"), middleware.OwnerKey(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	response.Success(c, conv)
}

// DeleteConversation 删除会话
// @Summary 删除会话及其消息与记忆
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id} [delete]
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	err := h.chatService.DeleteConversation(c.Request.Context(), c.Param("id"), middleware.OwnerKey(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	response.Success(c, nil)
}

// Messages 查询会话消息
// @Summary 查询会话消息
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Param limit query int false "最多返回条数，0 表示全部"
// @Success 200 {object} response.Response{data=[]chat.Message}
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *ChatHandler) Messages(c *gin.Context) {
	messages, err := h.chatService.Messages(c.Param("id"), middleware.OwnerKey(c), queryInt(c, "limit", 0))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	response.Success(c, messages)
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	// Sources 限定检索来源（文件原始名），可选
	Sources []string `json:"sources,omitempty"`
	// DocID 限定检索单个文件，可选
	DocID string `json:"doc_id,omitempty"`
}

// SendMessageResponse 发送消息响应
type SendMessageResponse struct {
	MessageID string        `json:"message_id"`
	Answer    *query.Answer `json:"answer"`
}

// SendMessage 发送消息并获取回答
// @Summary 发送消息并获取回答
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body SendMessageRequest true "消息内容"
// @Success 200 {object} response.Response{data=SendMessageResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 400, "content is required")
		return
	}

	msg, answer, err := h.chatService.SendMessage(
		c.Request.Context(),
		c.Param("id"),
		middleware.OwnerKey(c),
		req.Content,
		query.Filters{Sources: req.Sources, DocID: req.DocID},
	)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	response.Success(c, SendMessageResponse{MessageID: msg.ID, Answer: answer})
}

// RateMessageRequest 打分请求
type RateMessageRequest struct {
	Score   int    `json:"score" binding:"required"`
	Comment string `json:"comment"`
}

// RateMessage 给助手消息打分
// @Summary 给助手消息打分（1-5）
// @Tags 会话
// @Accept json
// @Produce json
// @Param messageId path string true "消息 ID"
// @Param request body RateMessageRequest true "打分"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /messages/{messageId}/rate [post]
func (h *ChatHandler) RateMessage(c *gin.Context) {
	var req RateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 400, "score is required")
		return
	}

	promoted, err := h.chatService.RateMessage(
		c.Request.Context(),
		c.Param("messageId"),
		middleware.OwnerKey(c),
		req.Score,
		req.Comment,
	)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	response.Success(c, gin.H{"promoted": promoted})
}

// Summarize 生成会话摘要
// @Summary 生成会话摘要
// @Tags 会话
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /conversations/{id}/summary [post]
func (h *ChatHandler) Summarize(c *gin.Context) {
	summary, err := h.chatService.Summarize(c.Request.Context(), c.Param("id"), middleware.OwnerKey(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	response.Success(c, gin.H{"summary": summary})
}

// writeChatError 把会话层错误翻译为 HTTP 状态码
func (h *ChatHandler) writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appChat.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, 404, "conversation not found")
	case errors.Is(err, appChat.ErrMessageNotFound):
		response.Error(c, http.StatusNotFound, 404, "message not found")
	case errors.Is(err, appChat.ErrForbidden):
		response.Error(c, http.StatusForbidden, 403, "conversation belongs to another key")
	case errors.Is(err, appChat.ErrInvalidScore),
		errors.Is(err, appChat.ErrInvalidMode),
		errors.Is(err, appChat.ErrNothingToSummarize):
		response.Error(c, http.StatusBadRequest, 400, err.Error())
	default:
		h.logger.Error("Chat operation failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "internal error")
	}
}
