// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// 读超时，收到 pong 后延长
	pongWait = 60 * time.Second
	// ping 间隔，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10
	// 单条客户端消息上限
	maxMessageSize = 4096
	// 每个客户端的发送队列
	sendBuffer = 64
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 本地单用户工具，允许任意来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	projectID string
	send      chan []byte
	closed    int32 // 原子操作标志，0=开启，1=关闭
	createdAt time.Time
	log       *logrus.Entry
}

// Frame 推送给客户端的消息
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage 客户端发来的控制消息
type ClientMessage struct {
	Type string `json:"type"`
}

// 消息类型
const (
	FrameConnected  = "connected"
	FrameTurnUpdate = "turn_update"
	FramePong       = "pong"
	FrameCancelled  = "cancelled"
	FrameError      = "error"
)

func newWebSocketClient(conn *websocket.Conn, projectID string, log *logrus.Entry) *WebSocketClient {
	return &WebSocketClient{
		conn:      conn,
		projectID: projectID,
		send:      make(chan []byte, sendBuffer),
		createdAt: time.Now(),
		log:       log.WithField("project_id", projectID),
	}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// SendFrame 非阻塞入队；队列已满时丢弃
func (client *WebSocketClient) SendFrame(frame Frame) bool {
	if client.IsClosed() {
		return false
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		client.log.WithError(err).Warn("failed to encode websocket frame")
		return false
	}

	select {
	case client.send <- data:
		return true
	default:
		client.log.WithField("type", frame.Type).Warn("websocket send queue full, frame dropped")
		return false
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(message string) {
	client.SendFrame(Frame{Type: FrameError, Error: message})
}

// WebSocketManager 按项目跟踪活动连接
type WebSocketManager struct {
	mutex       sync.RWMutex
	connections map[string]map[*WebSocketClient]struct{}
}

// NewWebSocketManager 创建连接管理器
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{connections: make(map[string]map[*WebSocketClient]struct{})}
}

func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.projectID] == nil {
		manager.connections[client.projectID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.projectID][client] = struct{}{}
}

func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if set, ok := manager.connections[client.projectID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(manager.connections, client.projectID)
		}
	}
}

// Count 活动连接总数
func (manager *WebSocketManager) Count() int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	total := 0
	for _, set := range manager.connections {
		total += len(set)
	}
	return total
}

// Shutdown 关闭全部连接
func (manager *WebSocketManager) Shutdown() {
	manager.mutex.RLock()
	var clients []*WebSocketClient
	for _, set := range manager.connections {
		for client := range set {
			clients = append(clients, client)
		}
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}
