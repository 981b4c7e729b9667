package service

import (
	"context"

	"github.com/jeremyng353/web-messenger/internal/models"
)

// ConversationReader 按时间戳向前读取已落库的消息块。
type ConversationReader interface {
	LastConversationBefore(ctx context.Context, roomID string, before int64) (*models.Conversation, error)
}

// MessageService 封装历史消息分页。
type MessageService struct {
	convs ConversationReader
}

func NewMessageService(convs ConversationReader) *MessageService {
	return &MessageService{convs: convs}
}

// Before 返回早于 before（毫秒）的最近一个消息块；before 为 0 表示当前时间，没有更早的块时返回 nil。
func (s *MessageService) Before(ctx context.Context, roomID string, before int64) (*models.Conversation, error) {
	return s.convs.LastConversationBefore(ctx, roomID, before)
}
