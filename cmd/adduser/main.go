package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jeremyng353/web-messenger/internal/config"
	"github.com/jeremyng353/web-messenger/internal/db"
	clog "github.com/jeremyng353/web-messenger/internal/log"
	"github.com/jeremyng353/web-messenger/internal/service"
	"github.com/jeremyng353/web-messenger/internal/session"
	"github.com/jeremyng353/web-messenger/internal/store"

	"github.com/rs/zerolog/log"
)

// adduser 向 users 表写入一个账号，数据库配置与服务端共用环境变量。
func main() {
	username := flag.String("username", "", "login name")
	password := flag.String("password", "", "plain text password")
	useBcrypt := flag.Bool("bcrypt", false, "store a bcrypt record instead of salted sha256")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: adduser -username NAME -password PASS [-bcrypt]")
		os.Exit(2)
	}

	cfg := config.Load()
	clog.Init(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 只用到用户写入，会话管理器不会被调用
	users := service.NewUserService(store.New(gdb), session.NewManager(session.NewMemoryBackend(), 0))
	user, err := users.Register(ctx, *username, *password, *useBcrypt)
	if err != nil {
		log.Fatal().Err(err).Str("username", *username).Msg("add user")
	}
	log.Info().Str("username", user.Username).Msg("user created")
}
