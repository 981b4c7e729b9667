// Package session 负责签发、校验与销毁不透明的会话令牌。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyng353/web-messenger/internal/metrics"

	"github.com/rs/zerolog/log"
)

// TokenBytes 是令牌的随机字节数，hex 编码后长度为 512。
const TokenBytes = 256

// DefaultMaxAge 是未指定时的会话有效期。
const DefaultMaxAge = 600000 * time.Millisecond

var (
	// ErrUnauthenticated 表示请求未携带有效会话。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound 由后端在令牌不存在或已过期时返回。
	ErrNotFound = errors.New("session not found")
)

type Session struct {
	Token     string        `json:"-"`
	Username  string        `json:"username"`
	CreatedAt time.Time     `json:"created_at"`
	MaxAge    time.Duration `json:"max_age"`
}

// ExpiresAt 返回固定 TTL 的过期时间，校验时不会续期。
func (s *Session) ExpiresAt() time.Time { return s.CreatedAt.Add(s.MaxAge) }

// Backend 是会话的存储端口；过期的条目必须表现为不存在。
type Backend interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

// Manager 独占会话数据，其他组件只能通过这里的方法访问。
type Manager struct {
	backend Backend
	maxAge  time.Duration
	now     func() time.Time
}

func NewManager(backend Backend, defaultMaxAge time.Duration) *Manager {
	if defaultMaxAge <= 0 {
		defaultMaxAge = DefaultMaxAge
	}
	return &Manager{backend: backend, maxAge: defaultMaxAge, now: time.Now}
}

// MaxAge 返回默认有效期，供设置 cookie 使用。
func (m *Manager) MaxAge() time.Duration { return m.maxAge }

// Create 为用户签发新令牌；同一用户可以同时持有多个有效令牌。
func (m *Manager) Create(ctx context.Context, username string, maxAge time.Duration) (string, error) {
	if maxAge <= 0 {
		maxAge = m.maxAge
	}
	token, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	s := &Session{Token: token, Username: username, CreatedAt: m.now(), MaxAge: maxAge}
	if err := m.backend.Put(ctx, s); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	return token, nil
}

// Validate 查询令牌对应的用户名，不存在或已过期时返回 ErrUnauthenticated。
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	s, err := m.backend.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return s.Username, nil
}

// Username 是 Validate 的别名，供非 HTTP 调用方使用；无效令牌返回空字符串。
func (m *Manager) Username(ctx context.Context, token string) string {
	name, err := m.Validate(ctx, token)
	if err != nil && !errors.Is(err, ErrUnauthenticated) {
		log.Error().Err(err).Msg("session lookup")
	}
	return name
}

// Delete 幂等地删除会话。
func (m *Manager) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.backend.Delete(ctx, token); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
