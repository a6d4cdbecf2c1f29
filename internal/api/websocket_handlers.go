// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sumanurawat/storyboarder/internal/services"
	"github.com/sumanurawat/storyboarder/internal/utils"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	projects *services.ProjectService
	manager  *WebSocketManager
	metrics  *utils.APIMetrics
	response *ResponseHelper
	log      *logrus.Entry
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(projects *services.ProjectService, metrics *utils.APIMetrics, log *logrus.Entry) *WebSocketHandler {
	return &WebSocketHandler{
		projects: projects,
		manager:  NewWebSocketManager(),
		metrics:  metrics,
		response: NewResponseHelper(),
		log:      log.WithField("component", "websocket"),
	}
}

// Manager 连接管理器
func (wh *WebSocketHandler) Manager() *WebSocketManager {
	return wh.manager
}

// ProjectWebSocket 推送项目的轮次状态；客户端可发送 {"type":"cancel"} 或 {"type":"ping"}
func (wh *WebSocketHandler) ProjectWebSocket(c *gin.Context) {
	controller, err := wh.projects.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		wh.response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newWebSocketClient(conn, controller.ProjectID(), wh.log)
	wh.manager.register(client)
	wh.gauge(1)

	updates := controller.Subscribe()
	defer func() {
		controller.Unsubscribe(updates)
		wh.manager.unregister(client)
		client.Close()
		wh.gauge(-1)
		client.log.WithField("duration", time.Since(client.createdAt).Round(time.Second)).Debug("websocket closed")
	}()

	go wh.handleWebSocketWrites(client, updates)

	// 发送连接确认与当前快照
	client.SendFrame(Frame{Type: FrameConnected, Data: wh.snapshot(controller)})
	client.log.Debug("websocket connected")

	wh.handleWebSocketReads(client, controller)
}

// handleWebSocketReads 处理客户端消息，连接断开时返回
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient, controller *services.TurnController) {
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !client.IsClosed() {
				client.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.SendError("invalid message format")
			continue
		}
		wh.handleClientMessage(client, controller, msg)
	}
}

func (wh *WebSocketHandler) handleClientMessage(client *WebSocketClient, controller *services.TurnController, msg ClientMessage) {
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "ping":
		client.SendFrame(Frame{Type: FramePong})
	case "cancel":
		cancelled := controller.Cancel()
		client.SendFrame(Frame{Type: FrameCancelled, Data: map[string]bool{"cancelled": cancelled}})
	case "snapshot":
		client.SendFrame(Frame{Type: FrameTurnUpdate, Data: wh.snapshot(controller)})
	default:
		client.SendError("unknown message type: " + msg.Type)
	}
}

// handleWebSocketWrites 唯一的写协程：转发轮次更新、控制响应与 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient, updates <-chan services.TurnUpdate) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				// 控制器已关闭（项目被删除或服务退出）
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "project closed"))
				return
			}
			data, err := json.Marshal(Frame{Type: FrameTurnUpdate, Data: update, Timestamp: time.Now()})
			if err != nil {
				client.log.WithError(err).Warn("failed to encode turn update")
				continue
			}
			if !wh.write(client, websocket.TextMessage, data) {
				return
			}

		case data := <-client.send:
			if !wh.write(client, websocket.TextMessage, data) {
				return
			}

		case <-ticker.C:
			if !wh.write(client, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (wh *WebSocketHandler) write(client *WebSocketClient, messageType int, data []byte) bool {
	if client.IsClosed() {
		return false
	}
	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteMessage(messageType, data); err != nil {
		client.log.WithError(err).Debug("websocket write failed")
		return false
	}
	return true
}

func (wh *WebSocketHandler) snapshot(controller *services.TurnController) services.TurnUpdate {
	return services.TurnUpdate{
		ProjectID:     controller.ProjectID(),
		Status:        controller.Status(),
		StreamingText: controller.StreamingText(),
		Document:      controller.Document(),
	}
}

func (wh *WebSocketHandler) gauge(delta int64) {
	if wh.metrics == nil {
		return
	}
	if delta > 0 {
		wh.metrics.Collector().IncGauge("ws_connections")
	} else {
		wh.metrics.Collector().DecGauge("ws_connections")
	}
}
