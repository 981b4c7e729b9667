package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jeremyng353/web-messenger/internal/service"
	"github.com/jeremyng353/web-messenger/internal/session"
	"github.com/jeremyng353/web-messenger/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
}

func NewHandler(userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc}
}

// Login 处理表单或 JSON 登录，成功后写入 session cookie 并跳转首页。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.ShouldBind(&req); err != nil || req.Username == "" || req.Password == "" {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			log.Info().Str("username", req.Username).Msg("login rejected")
			c.Redirect(http.StatusFound, "/login")
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	session.SetCookie(c, result.Token, result.MaxAge)
	c.Redirect(http.StatusFound, "/")
}

// Logout 删除会话并清除 cookie；未登录时同样跳转登录页。
func (h *Handler) Logout(c *gin.Context) {
	token, _ := c.Cookie(session.CookieName)
	if err := h.userSvc.Logout(c.Request.Context(), token); err != nil {
		log.Error().Err(err).Msg("logout")
	}
	session.ClearCookie(c)
	c.Redirect(http.StatusFound, "/login")
}

// Profile 返回当前会话的用户名。
func (h *Handler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": session.GetUsername(c)})
}

// ListRooms 返回全部房间及其待落库消息。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name  string `json:"name" form:"name"`
		Image string `json:"image" form:"image"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.roomSvc.Create(c.Request.Context(), req.Name, req.Image)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room name is required"})
			return
		}
		log.Error().Err(err).Str("name", req.Name).Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetRoom 返回单个房间，不存在时返回纯文本 404。
func (h *Handler) GetRoom(c *gin.Context) {
	id := c.Param("room_id")
	room, err := h.roomSvc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.String(http.StatusNotFound, "Room %s was not found", id)
			return
		}
		log.Error().Err(err).Str("room_id", id).Msg("get room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// ListMessages 返回早于 before 的最近一个消息块，没有时返回 null。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	var before int64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
			return
		}
		before = v
	}
	conv, err := h.msgSvc.Before(c.Request.Context(), roomID, before)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Int64("before", before).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if conv == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, conv)
}
