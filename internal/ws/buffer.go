package ws

import (
	"sync"
	"sync/atomic"

	"github.com/jeremyng353/web-messenger/internal/models"
)

type roomBuffer struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
}

// Buffers 保存各房间尚未落库的消息；每个房间一把锁，追加、取出、清空在锁内完成。
type Buffers struct {
	mu     sync.RWMutex
	size   int
	rooms  map[string]*roomBuffer
	closed atomic.Bool
}

func NewBuffers(blockSize int) *Buffers {
	if blockSize < 1 {
		blockSize = 1
	}
	return &Buffers{size: blockSize, rooms: make(map[string]*roomBuffer)}
}

func (b *Buffers) room(roomID string) *roomBuffer {
	b.mu.RLock()
	rb := b.rooms[roomID]
	b.mu.RUnlock()
	if rb != nil {
		return rb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if rb = b.rooms[roomID]; rb == nil {
		rb = &roomBuffer{}
		b.rooms[roomID] = rb
	}
	return rb
}

// Append 追加一条消息；缓冲达到块大小时原子地取出整块并清空，返回该块，否则返回 nil。
// DrainAll 之后缓冲已关闭，消息不再入缓冲，而是作为单独的块返回，closed 为 true。
func (b *Buffers) Append(roomID string, msg models.ChatMessage) (block []models.ChatMessage, closed bool) {
	rb := b.room(roomID)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if b.closed.Load() {
		return []models.ChatMessage{msg}, true
	}
	rb.msgs = append(rb.msgs, msg)
	if len(rb.msgs) < b.size {
		return nil, false
	}
	block = rb.msgs
	rb.msgs = nil
	return block, false
}

// Pending 返回房间缓冲的副本，房间不存在时返回空切片。
func (b *Buffers) Pending(roomID string) []models.ChatMessage {
	b.mu.RLock()
	rb := b.rooms[roomID]
	b.mu.RUnlock()
	if rb == nil {
		return []models.ChatMessage{}
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]models.ChatMessage, len(rb.msgs))
	copy(out, rb.msgs)
	return out
}

// DrainAll 关闭缓冲并取出所有非空缓冲（停服时落库不足一块的消息）。
func (b *Buffers) DrainAll() map[string][]models.ChatMessage {
	b.closed.Store(true)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]models.ChatMessage)
	for id, rb := range b.rooms {
		rb.mu.Lock()
		if len(rb.msgs) > 0 {
			out[id] = rb.msgs
			rb.msgs = nil
		}
		rb.mu.Unlock()
	}
	return out
}

func (b *Buffers) BlockSize() int { return b.size }
