// Package store 持久化房间、消息块与用户，对外屏蔽 gorm 细节。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyng353/web-messenger/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrValidation 表示缺少必填字段，handler 映射为 400。
	ErrValidation = errors.New("validation error")
	// ErrStorage 表示数据库不可达或操作失败，handler 映射为 500。
	ErrStorage = errors.New("storage error")
)

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// ListRooms 按创建时间与 id 排序返回全部房间。
func (r *Repository) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := r.db.WithContext(ctx).Order("created_at asc, id asc").Find(&rooms).Error; err != nil {
		return nil, storageErr("list rooms", err)
	}
	return rooms, nil
}

// GetRoom 同时接受规范 UUID 与其它可解析的写法。
// 若历史数据里原始字符串与规范形式各有一条记录，以规范 id 的记录为准，丢弃字符串键的重复项。
func (r *Repository) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	if id == "" {
		return nil, nil
	}
	keys := []string{id}
	canonical := ""
	if u, err := uuid.Parse(id); err == nil {
		canonical = u.String()
		if canonical != id {
			keys = append(keys, canonical)
		}
	}
	var rooms []models.Room
	if err := r.db.WithContext(ctx).Where("id IN ?", keys).Find(&rooms).Error; err != nil {
		return nil, storageErr("get room", err)
	}
	switch len(rooms) {
	case 0:
		return nil, nil
	case 1:
		return &rooms[0], nil
	}
	for i := range rooms {
		if rooms[i].ID == canonical {
			return &rooms[i], nil
		}
	}
	return &rooms[0], nil
}

// AddRoom 校验名称、分配规范 UUID，并在插入完成后返回实际落库的记录。
func (r *Repository) AddRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrValidation)
	}
	room.ID = uuid.NewString()
	if err := r.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, storageErr("add room", err)
	}
	room.Messages = []models.ChatMessage{}
	return &room, nil
}

// LastConversationBefore 返回时间戳严格小于 before 的最近一个消息块；before<=0 表示当前时间。
func (r *Repository) LastConversationBefore(ctx context.Context, roomID string, before int64) (*models.Conversation, error) {
	if before <= 0 {
		before = r.now().UnixMilli()
	}
	var convs []models.Conversation
	ts := clause.Column{Name: "timestamp"}
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Where(clause.Lt{Column: ts, Value: before}).
		Order(clause.OrderByColumn{Column: ts, Desc: true}).
		Limit(1).
		Find(&convs).Error
	if err != nil {
		return nil, storageErr("last conversation", err)
	}
	if len(convs) == 0 {
		return nil, nil
	}
	return &convs[0], nil
}

// AddConversation 写入一个不可变消息块；room_id、timestamp、messages 缺一不可。
func (r *Repository) AddConversation(ctx context.Context, conv models.Conversation) (*models.Conversation, error) {
	switch {
	case conv.RoomID == "":
		return nil, fmt.Errorf("%w: conversation room_id is required", ErrValidation)
	case conv.Timestamp == 0:
		return nil, fmt.Errorf("%w: conversation timestamp is required", ErrValidation)
	case conv.Messages == nil:
		return nil, fmt.Errorf("%w: conversation messages are required", ErrValidation)
	}
	conv.ID = 0
	msgs := make([]models.ChatMessage, len(conv.Messages))
	copy(msgs, conv.Messages)
	conv.Messages = msgs
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, storageErr("add conversation", err)
	}
	return &conv, nil
}

func (r *Repository) GetUser(ctx context.Context, username string) (*models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).Limit(1).Find(&users).Error; err != nil {
		return nil, storageErr("get user", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// AddUser 写入用户记录，供 cmd/adduser 初始化账号。
func (r *Repository) AddUser(ctx context.Context, user models.User) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return storageErr("add user", err)
	}
	return nil
}
