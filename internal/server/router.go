package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeremyng353/web-messenger/internal/config"
	"github.com/jeremyng353/web-messenger/internal/metrics"
	"github.com/jeremyng353/web-messenger/internal/mw"
	"github.com/jeremyng353/web-messenger/internal/session"
	"github.com/jeremyng353/web-messenger/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// protectedAssets 是需要登录才能访问的客户端文件。
var protectedAssets = map[string]string{
	"/":           "index.html",
	"/index":      "index.html",
	"/index.html": "index.html",
	"/app.js":     "app.js",
}

// SetupRouter 统一初始化 Gin 中间件、聊天 API 以及客户端静态文件。
func SetupRouter(cfg config.Config, h *Handler, sessions *session.Manager, loginLimiter *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/login", serveFile(cfg.ClientDir, "login.html"))
	if loginLimiter != nil {
		r.POST("/login", loginLimiter.Middleware(), h.Login)
	} else {
		r.POST("/login", h.Login)
	}
	r.GET("/logout", h.Logout)

	authed := r.Group("")
	authed.Use(session.Middleware(sessions))
	authed.GET("/chat", h.ListRooms)
	authed.POST("/chat", h.CreateRoom)
	authed.GET("/chat/:room_id", h.GetRoom)
	authed.GET("/chat/:room_id/messages", h.ListMessages)
	authed.GET("/profile", h.Profile)
	for path, file := range protectedAssets {
		authed.GET(path, serveFile(cfg.ClientDir, file))
	}

	r.NoRoute(serveStatic(cfg.ClientDir))
	return r
}

// NewWSLimiter 返回 WebSocket 握手使用的限速器。
func NewWSLimiter() *mw.Limiter {
	return mw.NewLimiter(rate.Every(time.Second/10), 20, 2*time.Minute)
}

// SetupWSRouter 构建独立端口上的 WebSocket 入口，握手按 IP 限速。
func SetupWSRouter(hub *ws.Hub, sessions ws.UsernameResolver, limiter *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if limiter != nil {
		r.GET("/", limiter.Middleware(), ws.Serve(hub, sessions))
	} else {
		r.GET("/", ws.Serve(hub, sessions))
	}
	return r
}

func serveFile(dir, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := filepath.Join(dir, name)
		if fi, err := os.Stat(target); err != nil || fi.IsDir() {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(target)
	}
}

// serveStatic 提供客户端目录下的其它公开文件（样式、图片等）。
func serveStatic(dir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		rel := strings.TrimPrefix(filepath.Clean("/"+c.Request.URL.Path), "/")
		if rel == "" || isProtected(rel) {
			c.Status(http.StatusNotFound)
			return
		}
		serveFile(dir, rel)(c)
	}
}

func isProtected(rel string) bool {
	for _, file := range protectedAssets {
		if rel == file {
			return true
		}
	}
	return false
}
