package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryBackend 把会话保存在进程内，查询时惰性判断过期，并由 Run 定期清扫。
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session), now: time.Now}
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Put(_ context.Context, s *Session) error {
	cp := *s
	b.mu.Lock()
	b.sessions[s.Token] = &cp
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, token string) (*Session, error) {
	b.mu.RLock()
	s, ok := b.sessions[token]
	b.mu.RUnlock()
	if !ok || !b.now().Before(s.ExpiresAt()) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (b *MemoryBackend) Delete(_ context.Context, token string) error {
	b.mu.Lock()
	delete(b.sessions, token)
	b.mu.Unlock()
	return nil
}

// Len 返回当前保存的条目数（包括尚未清扫的过期条目）。
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Sweep 删除所有已过期的会话并返回删除数量。
func (b *MemoryBackend) Sweep() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, s := range b.sessions {
		if !now.Before(s.ExpiresAt()) {
			delete(b.sessions, k)
			n++
		}
	}
	return n
}

// Run 按固定间隔清扫过期会话，直到 ctx 结束。
func (b *MemoryBackend) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("session sweep")
			}
		}
	}
}
