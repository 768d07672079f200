package websocket

import (
	"encoding/json"
	"sync"
)

// Hub WebSocket 连接管理中心
// 连接按访问方的 API Key 分组，文件状态变更只推给文件归属方
type Hub struct {
	// 按 owner key 分组的连接
	owners map[string]map[*Connection]bool
	// 注册连接
	register chan *Connection
	// 注销连接
	unregister chan *Connection
	// 广播消息
	broadcast chan *Message
	mu        sync.RWMutex
}

// Connection WebSocket 连接
type Connection struct {
	OwnerKey string
	Send     chan []byte
}

// Message 消息
type Message struct {
	OwnerKey string
	Data     []byte
}

// FileStatusEvent 文件入库进度推送
type FileStatusEvent struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		owners:     make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message),
	}
}

// Run 运行 Hub（需要在 goroutine 中运行）
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.owners[conn.OwnerKey] == nil {
				h.owners[conn.OwnerKey] = make(map[*Connection]bool)
			}
			h.owners[conn.OwnerKey][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if group, ok := h.owners[conn.OwnerKey]; ok {
				if _, ok := group[conn]; ok {
					delete(group, conn)
					close(conn.Send)
					if len(group) == 0 {
						delete(h.owners, conn.OwnerKey)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			if group, ok := h.owners[msg.OwnerKey]; ok {
				for conn := range group {
					select {
					case conn.Send <- msg.Data:
					default:
						close(conn.Send)
						delete(group, conn)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Start 启动 Hub（启动后台 goroutine）
func (h *Hub) Start() {
	go h.Run()
}

// Register 注册连接
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister 注销连接
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BroadcastToOwner 向指定归属方的全部连接广播消息
func (h *Hub) BroadcastToOwner(ownerKey string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	h.broadcast <- &Message{
		OwnerKey: ownerKey,
		Data:     jsonData,
	}
	return nil
}

// BroadcastAll 向全部连接广播消息
func (h *Hub) BroadcastAll(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, group := range h.owners {
		for conn := range group {
			select {
			case conn.Send <- jsonData:
			default:
				// 发送队列已满的连接跳过本条
			}
		}
	}

	return nil
}

// NotifyFileStatus 推送文件入库进度，知识库为共享资源，推给全部连接
func (h *Hub) NotifyFileStatus(fileID, status string, progress int, errMsg string) {
	_ = h.BroadcastAll(&FileStatusEvent{
		Type:     "file_status",
		FileID:   fileID,
		Status:   status,
		Progress: progress,
		Error:    errMsg,
	})
}
