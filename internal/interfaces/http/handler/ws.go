package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/kbchat/backend/internal/infrastructure/log"
	"github.com/kbchat/backend/internal/infrastructure/websocket"
	"github.com/kbchat/backend/internal/interfaces/http/middleware"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSHandler WebSocket 升级与连接维护
type WSHandler struct {
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader
	logger   *slog.Logger
}

// NewWSHandler 创建 WebSocket 处理器
func NewWSHandler(cfg *config.Config, hub *websocket.Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			// 本服务面向内部工具，不限制来源
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.NewModuleLogger("websocket", "handler"),
	}
}

// Serve 升级连接并开始收发
// @Summary 订阅文件入库进度推送
// @Tags 推送
// @Router /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &websocket.Connection{
		OwnerKey: middleware.OwnerKey(c),
		Send:     make(chan []byte, 64),
	}
	h.hub.Register(client)

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

// writePump 把 hub 推来的消息写给客户端，定期 ping 保活
func (h *WSHandler) writePump(conn *gorillaws.Conn, client *websocket.Connection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 消费客户端消息（仅用于感知断开）并维护读超时
func (h *WSHandler) readPump(conn *gorillaws.Conn, client *websocket.Connection) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
