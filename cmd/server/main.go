package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jeremyng353/web-messenger/internal/config"
	"github.com/jeremyng353/web-messenger/internal/db"
	clog "github.com/jeremyng353/web-messenger/internal/log"
	"github.com/jeremyng353/web-messenger/internal/mw"
	"github.com/jeremyng353/web-messenger/internal/server"
	"github.com/jeremyng353/web-messenger/internal/service"
	"github.com/jeremyng353/web-messenger/internal/session"
	"github.com/jeremyng353/web-messenger/internal/store"
	"github.com/jeremyng353/web-messenger/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 HTTP 与 WebSocket 两个监听。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	repo := store.New(gdb)

	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var backend session.Backend
	var rdb *redis.Client
	switch cfg.SessionBackend {
	case "redis":
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pctx, cancel := context.WithTimeout(bg, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		backend = session.NewRedisBackend(rdb, "session:")
	default:
		mem := session.NewMemoryBackend()
		go mem.Run(bg, time.Duration(cfg.SessionSweepSeconds)*time.Second)
		backend = mem
	}
	sessions := session.NewManager(backend, time.Duration(cfg.SessionMaxAgeMs)*time.Millisecond)

	hub := ws.NewHub(repo, ws.Options{
		BlockSize:            cfg.MessageBlockSize,
		FlushRetries:         cfg.FlushRetries,
		FlushRetryInterval:   time.Duration(cfg.FlushRetryIntervalSecs) * time.Second,
		RejectUnknownSession: cfg.RejectUnknownSession,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	loginLimiter := mw.NewLimiter(rate.Limit(cfg.LoginRatePerSecond), cfg.LoginRatePerSecond*2, 2*time.Minute)
	wsLimiter := server.NewWSLimiter()
	go loginLimiter.Run(bg, 30*time.Second)
	go wsLimiter.Run(bg, 30*time.Second)

	h := server.NewHandler(
		service.NewUserService(repo, sessions),
		service.NewRoomService(repo, hub),
		service.NewMessageService(repo),
	)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, h, sessions, loginLimiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wsSrv := &http.Server{
		Addr:              ":" + cfg.WSPort,
		Handler:           server.SetupWSRouter(hub, sessions, wsLimiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	for name, srv := range map[string]*http.Server{"http": httpSrv, "ws": wsSrv} {
		go func(name string, srv *http.Server) {
			log.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Str("server", name).Msg("server run")
			}
		}(name, srv)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// 先停监听，再让 hub 把剩余缓冲落库，最后关闭存储
			"web-messenger": func(ctx context.Context) error {
				errs := []error{httpSrv.Shutdown(ctx), wsSrv.Shutdown(ctx)}
				stopHub()
				select {
				case <-hub.Done():
				case <-ctx.Done():
					errs = append(errs, ctx.Err())
				}
				stopBackground()
				if rdb != nil {
					errs = append(errs, rdb.Close())
				}
				if sqlDB, err := gdb.DB(); err == nil {
					errs = append(errs, sqlDB.Close())
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("shutdown complete")
	os.Exit(exitCode)
}
