package log

import (
	"context"
	"log/slog"
)

// 上下文键定义
const (
	// RequestContextID HTTP 请求 ID
	RequestContextID = "request_id"

	// ConversationContextID 会话 ID
	ConversationContextID = "conversation_id"

	// FileContextID 知识库文件 ID
	FileContextID = "file_id"
)

// WithRequestID 在上下文中添加请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestContextID, requestID)
}

// WithConversationID 在上下文中添加会话 ID
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationContextID, conversationID)
}

// WithFileID 在上下文中添加文件 ID
func WithFileID(ctx context.Context, fileID string) context.Context {
	return context.WithValue(ctx, FileContextID, fileID)
}

// LogCtxFromContext 从上下文中提取日志字段
func LogCtxFromContext(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if requestID := ctx.Value(RequestContextID); requestID != nil {
		attrs = append(attrs, slog.String("request_id", requestID.(string)))
	}
	if conversationID := ctx.Value(ConversationContextID); conversationID != nil {
		attrs = append(attrs, slog.String("conversation_id", conversationID.(string)))
	}
	if fileID := ctx.Value(FileContextID); fileID != nil {
		attrs = append(attrs, slog.String("file_id", fileID.(string)))
	}

	return attrs
}
