package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"AssetRadar/pkg/model"
	"AssetRadar/pkg/monitor"
)

const broadcastBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由前置网关控制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub 维护已连接的客户端并广播事件
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	prom       *monitor.Metrics
	log        *zap.Logger
}

// NewHub 创建推送中心，需调用 Run 启动
func NewHub(prom *monitor.Metrics, log *zap.Logger) *Hub {
	if prom == nil {
		prom = monitor.NewMetrics(nil)
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		prom:       prom,
		log:        log,
	}
}

// Run 处理注册、注销与广播，ctx 结束时断开所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.prom.PushClients.Set(0)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.prom.PushClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
			h.log.Debug("推送客户端已连接", zap.String("remote", client.remote))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.prom.PushClients.Set(float64(len(h.clients)))
				h.log.Debug("推送客户端已断开", zap.String("remote", client.remote))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 客户端消费过慢，直接断开
					h.log.Warn("推送客户端发送缓冲已满，断开连接", zap.String("remote", client.remote))
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.prom.PushClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Notify 将事件编码为 {type, action, data} 广播给所有客户端。
// 广播队列满时丢弃事件，不阻塞写入流水线
func (h *Hub) Notify(_ context.Context, event model.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.log.Error("编码推送事件失败", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("推送队列已满，丢弃事件", zap.String("type", string(event.Type)))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS 升级 HTTP 连接并注册客户端
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		remote: conn.RemoteAddr().String(),
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
