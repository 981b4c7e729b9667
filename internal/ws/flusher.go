package ws

import (
	"context"
	"errors"
	"time"

	"github.com/jeremyng353/web-messenger/internal/metrics"
	"github.com/jeremyng353/web-messenger/internal/models"
	"github.com/jeremyng353/web-messenger/internal/store"

	"github.com/rs/zerolog/log"
)

// ConversationWriter 是 flusher 依赖的持久化端口。
type ConversationWriter interface {
	AddConversation(ctx context.Context, conv models.Conversation) (*models.Conversation, error)
}

const attemptTimeout = 5 * time.Second

// Flusher 在后台按顺序写入消息块；失败的块先指数退避重试，仍失败则进入重试队列定期再试。
type Flusher struct {
	repo          ConversationWriter
	queue         chan models.Conversation
	retries       int
	backoff       time.Duration
	retryInterval time.Duration
	failed        []models.Conversation
	done          chan struct{}
}

func NewFlusher(repo ConversationWriter, retries int, backoff, retryInterval time.Duration) *Flusher {
	if retries < 1 {
		retries = 1
	}
	if retryInterval <= 0 {
		retryInterval = 10 * time.Second
	}
	return &Flusher{
		repo:          repo,
		queue:         make(chan models.Conversation, 64),
		retries:       retries,
		backoff:       backoff,
		retryInterval: retryInterval,
		done:          make(chan struct{}),
	}
}

// Enqueue 把消息块交给后台写入；flusher 已停止时记录丢失。
func (f *Flusher) Enqueue(conv models.Conversation) {
	select {
	case <-f.done:
		f.lost(conv)
		return
	default:
	}
	select {
	case f.queue <- conv:
	case <-f.done:
		f.lost(conv)
	}
}

func (f *Flusher) lost(conv models.Conversation) {
	metrics.ConversationFlushTotal.WithLabelValues("lost").Inc()
	log.Error().Str("room_id", conv.RoomID).Int("messages", len(conv.Messages)).Msg("conversation dropped after flusher stopped")
}

// Done 在 Run 返回后关闭。
func (f *Flusher) Done() <-chan struct{} { return f.done }

func (f *Flusher) Run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return
		case conv := <-f.queue:
			if err := f.persist(ctx, conv); err != nil {
				if errors.Is(err, store.ErrValidation) {
					log.Error().Err(err).Str("room_id", conv.RoomID).Int("messages", len(conv.Messages)).Msg("conversation rejected")
					continue
				}
				f.failed = append(f.failed, conv)
				metrics.ConversationRetryQueue.Set(float64(len(f.failed)))
				log.Error().Err(err).Str("room_id", conv.RoomID).Int("messages", len(conv.Messages)).Msg("conversation flush failed; queued for retry")
			}
		case <-ticker.C:
			f.retryFailed(ctx)
		}
	}
}

func (f *Flusher) persist(ctx context.Context, conv models.Conversation) error {
	var err error
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.backoff << (attempt - 1)):
			}
		}
		if err = f.attempt(ctx, conv); err == nil {
			return nil
		}
		// 校验失败重试也不会成功
		if errors.Is(err, store.ErrValidation) {
			break
		}
		log.Warn().Err(err).Str("room_id", conv.RoomID).Int("attempt", attempt+1).Msg("conversation flush attempt")
	}
	return err
}

func (f *Flusher) attempt(ctx context.Context, conv models.Conversation) error {
	actx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	_, err := f.repo.AddConversation(actx, conv)
	if err != nil {
		metrics.ConversationFlushTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ConversationFlushTotal.WithLabelValues("ok").Inc()
	return nil
}

func (f *Flusher) retryFailed(ctx context.Context) {
	if len(f.failed) == 0 {
		return
	}
	var still []models.Conversation
	for _, conv := range f.failed {
		if err := f.attempt(ctx, conv); err != nil {
			still = append(still, conv)
			continue
		}
		log.Info().Str("room_id", conv.RoomID).Int64("timestamp", conv.Timestamp).Msg("conversation flushed on retry")
	}
	f.failed = still
	metrics.ConversationRetryQueue.Set(float64(len(f.failed)))
}

// shutdown 取出队列中剩余的块，连同重试队列做最后一次写入。
func (f *Flusher) shutdown() {
drain:
	for {
		select {
		case conv := <-f.queue:
			f.failed = append(f.failed, conv)
		default:
			break drain
		}
	}
	lost := 0
	for _, conv := range f.failed {
		if err := f.attempt(context.Background(), conv); err != nil {
			lost += len(conv.Messages)
			log.Error().Err(err).Str("room_id", conv.RoomID).Int("messages", len(conv.Messages)).Msg("conversation lost at shutdown")
		}
	}
	f.failed = nil
	metrics.ConversationRetryQueue.Set(0)
	if lost > 0 {
		log.Error().Int("messages", lost).Msg("unpersisted messages at shutdown")
	}
}
