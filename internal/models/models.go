package models

import "time"

type User struct {
	Username string `gorm:"primaryKey;size:64" json:"username"`
	Password string `gorm:"not null" json:"-"`
}

// Room 的 Messages 只是待落库的内存缓冲快照，不写入 rooms 表。
type Room struct {
	ID        string        `gorm:"primaryKey;size:64" json:"_id"`
	Name      string        `gorm:"size:128;not null" json:"name"`
	Image     string        `gorm:"size:512" json:"image,omitempty"`
	CreatedAt time.Time     `json:"-"`
	Messages  []ChatMessage `gorm:"-" json:"messages"`
}

type ChatMessage struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Conversation 是一个不可变的消息块，按创建时间戳分页读取。
type Conversation struct {
	ID        uint          `gorm:"primaryKey" json:"-"`
	RoomID    string        `gorm:"index:idx_conv_room_ts,priority:1;size:64;not null" json:"room_id"`
	Timestamp int64         `gorm:"index:idx_conv_room_ts,priority:2;not null" json:"timestamp"`
	Messages  []ChatMessage `gorm:"serializer:json;type:text;not null" json:"messages"`
}
