package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	WSPort                 string
	Env                    string
	DatabaseDriver         string
	DatabaseDSN            string
	SessionBackend         string
	RedisAddr              string
	SessionMaxAgeMs        int
	SessionSweepSeconds    int
	MessageBlockSize       int
	FlushRetries           int
	FlushRetryIntervalSecs int
	RejectUnknownSession   bool
	ClientDir              string
	LoginRatePerSecond     int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getint 解析正整数环境变量，非法值回退到默认值。
func getint(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func Load() Config {
	reject, _ := strconv.ParseBool(getenv("WS_REJECT_UNKNOWN_SESSION", "false"))
	return Config{
		Port:                   getenv("APP_PORT", "3000"),
		WSPort:                 getenv("WS_PORT", "4000"),
		Env:                    getenv("APP_ENV", "dev"),
		DatabaseDriver:         strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseDSN:            getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=web-messenger port=5432 sslmode=disable TimeZone=UTC"),
		SessionBackend:         strings.ToLower(getenv("SESSION_BACKEND", "memory")),
		RedisAddr:              getenv("REDIS_ADDR", "localhost:6379"),
		SessionMaxAgeMs:        getint("SESSION_MAX_AGE_MS", 600000),
		SessionSweepSeconds:    getint("SESSION_SWEEP_SECONDS", 30),
		MessageBlockSize:       getint("MESSAGE_BLOCK_SIZE", 10),
		FlushRetries:           getint("FLUSH_RETRIES", 3),
		FlushRetryIntervalSecs: getint("FLUSH_RETRY_INTERVAL_SECONDS", 10),
		RejectUnknownSession:   reject,
		ClientDir:              getenv("CLIENT_DIR", "./client"),
		LoginRatePerSecond:     getint("LOGIN_RATE_PER_SECOND", 5),
	}
}

// Validate 在启动前检查配置组合是否可用。
func Validate(cfg Config) error {
	if cfg.Port == "" || cfg.WSPort == "" {
		return errors.New("config: APP_PORT and WS_PORT are required")
	}
	if cfg.Port == cfg.WSPort {
		return errors.New("config: APP_PORT and WS_PORT must differ")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	switch cfg.SessionBackend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR is required for the redis session backend")
		}
	default:
		return fmt.Errorf("config: unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	if cfg.MessageBlockSize < 1 {
		return errors.New("config: MESSAGE_BLOCK_SIZE must be at least 1")
	}
	if cfg.SessionMaxAgeMs < 1 {
		return errors.New("config: SESSION_MAX_AGE_MS must be positive")
	}
	return nil
}
