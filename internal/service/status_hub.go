package service

import (
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type StatusClient struct {
	hub  *StatusHub
	conn *websocket.Conn
	send chan []byte
}

// readPump 客户端不发送业务消息，只负责处理 pong 和检测断开
func (c *StatusClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("Status stream unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (c *StatusClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// StatusHub 把进度代理的状态变化推送给所有已连接的界面
type StatusHub struct {
	clients    map[*StatusClient]bool
	broadcast  chan []byte
	register   chan *StatusClient
	unregister chan *StatusClient
	done       chan struct{}
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*StatusClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *StatusClient),
		unregister: make(chan *StatusClient),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销和广播，ctx 结束时关闭所有连接
func (h *StatusHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			monitoring.StatusStreamClients.Set(0)
			logger.Log.Info("Status hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			monitoring.StatusStreamClients.Inc()

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				monitoring.StatusStreamClients.Dec()
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 消费过慢的连接直接断开
					delete(h.clients, client)
					close(client.send)
					monitoring.StatusStreamClients.Dec()
				}
			}
		}
	}
}

// Publish 实现 StatusPublisher，广播队列已满时丢弃该消息
func (h *StatusHub) Publish(event StatusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("Status event marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		logger.Log.Debug("Status broadcast dropped", zap.String("type", event.Type))
	}
}

// ServeWs 升级连接并立即推送一次当前状态
func (h *StatusHub) ServeWs(w http.ResponseWriter, r *http.Request, initial StatusEvent) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &StatusClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 16),
	}
	if payload, err := json.Marshal(initial); err == nil {
		client.send <- payload
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
