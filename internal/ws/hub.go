package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeremyng353/web-messenger/internal/metrics"
	"github.com/jeremyng353/web-messenger/internal/models"

	"github.com/rs/zerolog/log"
)

// Options 控制块大小、落库重试与握手策略。
type Options struct {
	BlockSize            int
	FlushRetries         int
	FlushBackoff         time.Duration
	FlushRetryInterval   time.Duration
	RejectUnknownSession bool
}

type broadcastMessage struct {
	sender  *Client
	payload []byte
}

// Hub 在单个 goroutine 中维护连接集合并转发消息；待落库消息缓冲由 Hub 独占。
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	online     int32

	buffers *Buffers
	flusher *Flusher
	opts    Options
	now     func() time.Time

	stopping chan struct{}
	done     chan struct{}
}

func NewHub(repo ConversationWriter, opts Options) *Hub {
	if opts.BlockSize < 1 {
		opts.BlockSize = 10
	}
	if opts.FlushBackoff <= 0 {
		opts.FlushBackoff = 200 * time.Millisecond
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, 256),
		buffers:    NewBuffers(opts.BlockSize),
		flusher:    NewFlusher(repo, opts.FlushRetries, opts.FlushBackoff, opts.FlushRetryInterval),
		opts:       opts,
		now:        time.Now,
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run 运行事件循环直到 ctx 结束；退出前关闭所有连接并把不足一块的缓冲交给 flusher。
func (h *Hub) Run(ctx context.Context) {
	fctx, stopFlusher := context.WithCancel(context.Background())
	defer stopFlusher()
	go h.flusher.Run(fctx)

	for {
		select {
		case <-ctx.Done():
			close(h.stopping)
			h.closeAll()
			ts := h.now().UnixMilli()
			for roomID, msgs := range h.buffers.DrainAll() {
				h.flusher.Enqueue(models.Conversation{RoomID: roomID, Timestamp: ts, Messages: msgs})
			}
			stopFlusher()
			<-h.flusher.Done()
			close(h.done)
			return
		case c := <-h.register:
			h.clients[c] = true
			h.setOnline()
			metrics.WsConnections.Inc()
			log.Debug().Str("addr", c.addr).Str("username", c.username).Int("online", len(h.clients)).Msg("ws client registered")
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				if c == msg.sender {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					log.Warn().Str("addr", c.addr).Msg("ws client removed due to full send buffer")
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.setOnline()
	metrics.WsConnections.Dec()
	log.Debug().Str("addr", c.addr).Int("online", len(h.clients)).Msg("ws client unregistered")
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		h.remove(c)
	}
}

func (h *Hub) setOnline() { atomic.StoreInt32(&h.online, int32(len(h.clients))) }

// Online 返回当前已注册的连接数。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }

// Pending 返回房间尚未落库的消息副本，供 GET /chat 附带返回。
func (h *Hub) Pending(roomID string) []models.ChatMessage { return h.buffers.Pending(roomID) }

// Done 在 Run 完全退出（包括最后一次落库）后关闭。
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopping:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}

// Relay 处理一条入站消息：转义、盖上服务端用户名、广播给其他连接，然后写入房间缓冲。
func (h *Hub) Relay(sender *Client, in InboundMessage) {
	out := OutboundMessage{RoomID: in.RoomID, Username: sender.username, Text: Sanitize(*in.Text)}
	payload, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("marshal outbound message")
		return
	}
	select {
	case h.broadcast <- broadcastMessage{sender: sender, payload: payload}:
	case <-h.stopping:
		return
	}
	metrics.WsMessagesTotal.Inc()

	block, closed := h.buffers.Append(in.RoomID, models.ChatMessage{Username: out.Username, Text: out.Text})
	if closed {
		// 缓冲已在停服时取空，迟到的消息直接交给 flusher，落库失败会记为 lost
		log.Warn().Str("room_id", in.RoomID).Msg("message relayed after shutdown drain")
	}
	if block != nil {
		h.flusher.Enqueue(models.Conversation{RoomID: in.RoomID, Timestamp: h.now().UnixMilli(), Messages: block})
	}
}

var sanitizer = strings.NewReplacer("<", "%3C", ">", "%3E")

// Sanitize 把尖括号替换为百分号转义，客户端按原样渲染时不会被当作标记。
func Sanitize(text string) string { return sanitizer.Replace(text) }
