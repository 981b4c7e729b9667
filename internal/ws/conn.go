package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jeremyng353/web-messenger/internal/metrics"
	"github.com/jeremyng353/web-messenger/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MinCookieLength 是握手 Cookie 头的最小长度；有效的 session cookie 本身就超过这个长度。
const MinCookieLength = 2 * session.TokenBytes

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

// UsernameResolver 把会话令牌解析为用户名，无效令牌返回空字符串。
type UsernameResolver interface {
	Username(ctx context.Context, token string) string
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	username string
	addr     string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	RoomID string  `json:"roomId"`
	Text   *string `json:"text"`
}

type OutboundMessage struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Serve 完成 WebSocket 握手，按 session cookie 识别用户后注册到 Hub。
// cookie 缺失、过短或无法解析时直接关闭连接，不发送任何错误帧。
func Serve(h *Hub, sessions UsernameResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Cookie")
		cookie, cookieErr := c.Request.Cookie(session.CookieName)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		addr := c.ClientIP()

		var reason string
		switch {
		case raw == "":
			reason = "missing_cookie"
		case len(raw) < MinCookieLength:
			reason = "short_cookie"
		case cookieErr != nil || cookie.Value == "":
			reason = "malformed_cookie"
		}
		if reason != "" {
			reject(conn, addr, reason)
			return
		}

		username := sessions.Username(c.Request.Context(), cookie.Value)
		if username == "" && h.opts.RejectUnknownSession {
			reject(conn, addr, "unknown_session")
			return
		}

		client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), username: username, addr: addr}
		if !h.Register(client) {
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump()
	}
}

func reject(conn *websocket.Conn, addr, reason string) {
	metrics.WsRejectedTotal.WithLabelValues(reason).Inc()
	log.Info().Str("addr", addr).Str("reason", reason).Msg("ws handshake rejected")
	_ = conn.Close()
}

// decodeInbound 解析入站帧；roomId 或 text 缺失视为格式错误。
func decodeInbound(data []byte) (InboundMessage, bool) {
	var in InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return in, false
	}
	if in.RoomID == "" || in.Text == nil {
		return in, false
	}
	return in, true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("addr", c.addr).Msg("ws read")
			}
			return
		}
		in, ok := decodeInbound(data)
		if !ok {
			log.Info().Str("addr", c.addr).Str("username", c.username).Msg("ws malformed frame; closing")
			return
		}
		c.hub.Relay(c, in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
