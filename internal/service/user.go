package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyng353/web-messenger/internal/auth"
	"github.com/jeremyng353/web-messenger/internal/models"
	"github.com/jeremyng353/web-messenger/internal/session"

	"github.com/rs/zerolog/log"
)

// UserStore 是用户数据的读写端口。
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	AddUser(ctx context.Context, user models.User) error
}

// UserService 封装登录、登出与用户创建。
type UserService struct {
	users    UserStore
	sessions *session.Manager
}

func NewUserService(users UserStore, sessions *session.Manager) *UserService {
	return &UserService{users: users, sessions: sessions}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Token    string
	Username string
	MaxAge   time.Duration
}

// Login 校验用户名密码并签发会话令牌。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	ok, err := auth.VerifyPassword(password, user.Password)
	if err != nil {
		// 记录损坏属于配置问题，不是凭证错误
		log.Error().Err(err).Str("username", username).Msg("password record")
		return nil, fmt.Errorf("verify password for %s: %w", username, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	token, err := s.sessions.Create(ctx, user.Username, 0)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Username: user.Username, MaxAge: s.sessions.MaxAge()}, nil
}

// Logout 删除会话，令牌不存在时也返回成功。
func (s *UserService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Register 创建新用户；useBcrypt 为 true 时保存 bcrypt 记录，否则保存加盐 SHA-256 记录。
func (s *UserService) Register(ctx context.Context, username, password string, useBcrypt bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 64 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 4 || len(password) > 128 {
		return nil, ErrInvalidPassword
	}
	existing, err := s.users.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	hash := auth.HashPassword
	if useBcrypt {
		hash = auth.HashPasswordBcrypt
	}
	record, err := hash(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, Password: record}
	if err := s.users.AddUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// IsConfigFault 判断登录失败是否源于服务端数据问题。
func IsConfigFault(err error) bool {
	return errors.Is(err, auth.ErrMalformedRecord)
}
