package chat

// ConversationRepository 会话仓储接口
type ConversationRepository interface {
	// Save 保存会话（创建或更新）
	Save(conv *Conversation) error

	// FindByID 根据 ID 查找会话，不存在返回 (nil, nil)
	FindByID(id string) (*Conversation, error)

	// FindByOwner 按归属 API Key 查询会话，按最近活跃时间倒序
	FindByOwner(ownerKey string, limit, offset int) ([]*Conversation, error)

	// Touch 更新最近活跃时间
	Touch(id string) error

	// Delete 删除会话（级联删除消息）
	Delete(id string) error
}

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// Save 保存消息（创建或更新）
	Save(msg *Message) error

	// FindByID 根据 ID 查找消息，不存在返回 (nil, nil)
	FindByID(id string) (*Message, error)

	// FindByConversation 按会话获取消息，按创建时间升序
	FindByConversation(conversationID string, limit int) ([]*Message, error)

	// FindRecent 获取会话最近的 limit 条消息，按创建时间升序返回
	FindRecent(conversationID string, limit int) ([]*Message, error)

	// UpdateScore 写入质量评分
	UpdateScore(id string, score int) error

	// MarkTraining 标记消息已晋升，仅当尚未标记时生效，返回是否标记成功
	MarkTraining(id string) (bool, error)

	// DeleteByConversation 删除会话的全部消息
	DeleteByConversation(conversationID string) error
}

// FeedbackRepository 反馈仓储接口
type FeedbackRepository interface {
	// Save 保存反馈记录
	Save(fb *Feedback) error

	// FindAll 分页查询反馈记录，按创建时间倒序
	FindAll(limit, offset int) ([]*Feedback, error)
}
