package service

import (
	"context"
	"strings"

	"github.com/jeremyng353/web-messenger/internal/models"
)

// RoomStore 是房间数据的读写端口。
type RoomStore interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	AddRoom(ctx context.Context, room models.Room) (*models.Room, error)
}

// PendingSource 提供房间尚未落库的消息。
type PendingSource interface {
	Pending(roomID string) []models.ChatMessage
}

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	rooms   RoomStore
	pending PendingSource
}

func NewRoomService(rooms RoomStore, pending PendingSource) *RoomService {
	return &RoomService{rooms: rooms, pending: pending}
}

// List 返回全部房间，每个房间附带当前的待落库消息。
func (s *RoomService) List(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		r.Messages = s.pending.Pending(r.ID)
		out = append(out, r)
	}
	return out, nil
}

// Get 查询单个房间，不存在时返回 ErrRoomNotFound。
func (s *RoomService) Get(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	room.Messages = s.pending.Pending(room.ID)
	return room, nil
}

// Create 创建新房间。
func (s *RoomService) Create(ctx context.Context, name, image string) (*models.Room, error) {
	return s.rooms.AddRoom(ctx, models.Room{Name: strings.TrimSpace(name), Image: image})
}
