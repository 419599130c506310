package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/hopper-driver/internal/config"
	"github.com/wfunc/hopper-driver/internal/hardware"
	"go.uber.org/zap"
)

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 设备消息
	MessageTypeMonitorStatus = "monitor_status"
	MessageTypePayoutReport  = "payout_report"
)

// Options 连接参数
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  8192,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      64,
	}
}

// OptionsFromConfig 从配置生成连接参数，未配置的项使用默认值
func OptionsFromConfig(cfg config.WebSocketConfig) Options {
	opts := DefaultOptions()
	if cfg.ReadBufferSize > 0 {
		opts.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		opts.WriteBufferSize = cfg.WriteBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		opts.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.PingInterval > 0 {
		opts.PingInterval = cfg.PingInterval
	}
	if cfg.PongTimeout > 0 {
		opts.PongTimeout = cfg.PongTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	// ping 周期必须小于 pong 超时
	if opts.PingInterval >= opts.PongTimeout {
		opts.PingInterval = opts.PongTimeout * 9 / 10
	}
	return opts
}

// Hub WebSocket连接管理中心
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			// 面向本机运维页面，不校验来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub，ctx 取消后断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			h.clientsMu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.clientsMu.Unlock()
			h.logger.Info("WebSocket Hub已停止")
			return
		}
	}
}

// ServeHTTP 升级连接并启动读写协程
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("remote", client.conn.RemoteAddr().String()))

	msg, _ := NewMessage(MessageTypeConnected, map[string]string{"client_id": client.ID})
	h.sendTo(client, msg)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息，发送缓冲区满的客户端跳过本条
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// sendTo 发送消息给指定客户端
func (h *Hub) sendTo(client *Client, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return ErrClientNotFound
	}

	select {
	case client.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Broadcast 广播消息，队列满时丢弃
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("广播队列已满，丢弃消息", zap.String("type", message.Type))
	}
}

// BroadcastData 序列化后广播
func (h *Hub) BroadcastData(msgType string, data interface{}) error {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Reporter 把监控结果转成 monitor_status 广播
func (h *Hub) Reporter() hardware.Reporter {
	return func(report *hardware.MonitorReport) {
		if err := h.BroadcastData(MessageTypeMonitorStatus, report); err != nil {
			h.logger.Warn("广播监控状态失败", zap.Error(err))
		}
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// NewMessage 创建消息
func NewMessage(msgType string, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}
