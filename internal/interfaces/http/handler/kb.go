package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/backend/internal/application/ingest"
	"github.com/kbchat/backend/internal/domain/kb"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/interfaces/http/response"
)

// KBHandler 知识库文件处理器
type KBHandler struct {
	ingestService *ingest.Service
	logger        *slog.Logger
}

// NewKBHandler 创建知识库文件处理器
func NewKBHandler(ingestService *ingest.Service) *KBHandler {
	return &KBHandler{
		ingestService: ingestService,
		logger:        log.NewModuleLogger("kb", "handler"),
	}
}

// Upload 上传文件进知识库
// @Summary 上传文件进知识库
// @Tags 知识库
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "文档文件"
// @Success 201 {object} response.Response{data=kb.KnowledgeFile}
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/files [post]
func (h *KBHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, 400, "file is required")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, 400, "failed to read uploaded file")
		return
	}
	defer src.Close()

	file, err := h.ingestService.CreateFromUpload(
		c.Request.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		src,
	)
	if err != nil {
		h.logger.Error("Upload failed", "filename", fileHeader.Filename, "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "failed to store uploaded file")
		return
	}

	response.Created(c, file)
}

// List 分页查询知识库文件
// @Summary 分页查询知识库文件
// @Tags 知识库
// @Produce json
// @Param q query string false "按文件名模糊匹配"
// @Param status query string false "按状态过滤：uploaded/parsing/tagged/embedding/ready/failed"
// @Param limit query int false "每页条数，默认 20"
// @Param offset query int false "偏移量"
// @Success 200 {object} response.ResponseWithPage{data=[]kb.KnowledgeFile}
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/files [get]
func (h *KBHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	files, total, err := h.ingestService.List(kb.FileListFilter{
		Query:  c.Query("q"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("List files failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "failed to list files")
		return
	}

	response.SuccessWithPage(c, gin.H{"files": files, "total": total}, limit, offset, len(files))
}

// Get 查询单个文件
// @Summary 查询单个文件
// @Tags 知识库
// @Produce json
// @Param id path string true "文件 ID"
// @Success 200 {object} response.Response{data=kb.KnowledgeFile}
// @Failure 404 {object} response.ErrorResponse
// @Router /kb/files/{id} [get]
func (h *KBHandler) Get(c *gin.Context) {
	file, err := h.ingestService.Get(c.Param("id"))
	if err != nil {
		h.writeIngestError(c, err)
		return
	}
	response.Success(c, file)
}

// ConfirmRequest 确认入库请求
type ConfirmRequest struct {
	// Tags 用户确认的标签，为空时使用自动标签
	Tags []string `json:"tags"`
}

// Confirm 确认标签并触发向量化
// @Summary 确认标签并触发向量化
// @Tags 知识库
// @Accept json
// @Produce json
// @Param id path string true "文件 ID"
// @Param request body ConfirmRequest true "确认请求"
// @Success 200 {object} response.Response{data=kb.KnowledgeFile}
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /kb/files/{id}/confirm [post]
func (h *KBHandler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 400, "invalid request body")
		return
	}

	file, err := h.ingestService.Confirm(c.Request.Context(), c.Param("id"), req.Tags)
	if err != nil {
		h.writeIngestError(c, err)
		return
	}

	response.Success(c, file)
}

// Delete 删除文件及其片段和向量
// @Summary 删除文件及其片段和向量
// @Tags 知识库
// @Produce json
// @Param id path string true "文件 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/files/{id} [delete]
func (h *KBHandler) Delete(c *gin.Context) {
	if err := h.ingestService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeIngestError(c, err)
		return
	}
	response.Success(c, nil)
}

// Chunks 查询文件的片段列表
// @Summary 查询文件的片段列表
// @Tags 知识库
// @Produce json
// @Param id path string true "文件 ID"
// @Success 200 {object} response.Response{data=[]kb.Chunk}
// @Failure 404 {object} response.ErrorResponse
// @Router /kb/files/{id}/chunks [get]
func (h *KBHandler) Chunks(c *gin.Context) {
	chunks, err := h.ingestService.Chunks(c.Param("id"))
	if err != nil {
		h.writeIngestError(c, err)
		return
	}
	response.Success(c, chunks)
}

// DeleteChunk 删除单个片段
// @Summary 删除单个片段并同步清理其向量
// @Tags 知识库
// @Produce json
// @Param chunkId path string true "片段 ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/chunks/{chunkId} [delete]
func (h *KBHandler) DeleteChunk(c *gin.Context) {
	if err := h.ingestService.DeleteChunk(c.Request.Context(), c.Param("chunkId")); err != nil {
		h.writeIngestError(c, err)
		return
	}
	response.Success(c, nil)
}

// Reingest 重新入库
// @Summary 重新走一遍解析、打标、向量化流水线
// @Tags 知识库
// @Produce json
// @Param id path string true "文件 ID"
// @Success 200 {object} response.Response{data=kb.KnowledgeFile}
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/files/{id}/reingest [post]
func (h *KBHandler) Reingest(c *gin.Context) {
	file, err := h.ingestService.Reingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeIngestError(c, err)
		return
	}
	response.Success(c, file)
}

// QueueStats 入库队列统计
// @Summary 入库队列统计
// @Tags 知识库
// @Produce json
// @Success 200 {object} response.Response{data=kb.QueueStats}
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/queue/stats [get]
func (h *KBHandler) QueueStats(c *gin.Context) {
	stats, err := h.ingestService.QueueStats()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, 500, "failed to read queue stats")
		return
	}
	response.Success(c, stats)
}

// RetryFailed 重置失败任务
// @Summary 把失败的入库任务重置为待处理
// @Tags 知识库
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.ErrorResponse
// @Router /kb/queue/retry [post]
func (h *KBHandler) RetryFailed(c *gin.Context) {
	count, err := h.ingestService.RetryFailedTasks()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, 500, "failed to retry tasks")
		return
	}
	response.Success(c, gin.H{"retried": count})
}

// writeIngestError 把应用层错误翻译为 HTTP 状态码
func (h *KBHandler) writeIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrFileNotFound):
		response.Error(c, http.StatusNotFound, 404, "file not found")
	case errors.Is(err, ingest.ErrChunkNotFound):
		response.Error(c, http.StatusNotFound, 404, "chunk not found")
	case errors.Is(err, ingest.ErrNoTags):
		response.Error(c, http.StatusBadRequest, 400, err.Error())
	case errors.Is(err, ingest.ErrInvalidState):
		response.Error(c, http.StatusConflict, 409, err.Error())
	default:
		h.logger.Error("KB operation failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 500, "internal error")
	}
}

// queryInt 读取整数查询参数，缺失或非法时使用默认值
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
