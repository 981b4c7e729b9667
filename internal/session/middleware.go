package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CookieName 是承载会话令牌的 cookie 名。
const CookieName = "session"

const (
	usernameKey = "username"
	tokenKey    = "session"
)

// Middleware 校验 session cookie，并把用户名与令牌写入 gin 上下文。
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CookieName)
		if err != nil || token == "" {
			Reject(c, ErrUnauthenticated)
			return
		}
		username, err := m.Validate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("session validate")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			Reject(c, err)
			return
		}
		c.Set(usernameKey, username)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// Reject 对 JSON 客户端返回 401，其余客户端重定向到登录页。
func Reject(c *gin.Context, err error) {
	if WantsJSON(c.Request) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/login")
	c.Abort()
}

func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// SetCookie 把新令牌写入响应。
func SetCookie(c *gin.Context, token string, maxAge time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

func GetUsername(c *gin.Context) string {
	if v, ok := c.Get(usernameKey); ok {
		if name, ok2 := v.(string); ok2 {
			return name
		}
	}
	return ""
}

func GetToken(c *gin.Context) string {
	if v, ok := c.Get(tokenKey); ok {
		if token, ok2 := v.(string); ok2 {
			return token
		}
	}
	return ""
}
