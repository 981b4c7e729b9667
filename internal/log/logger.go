package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 按运行环境配置全局 zerolog：dev 使用控制台输出，其余环境输出 JSON。
func Init(env string) {
	InitWithWriter(env, os.Stdout)
}

// InitWithWriter 与 Init 相同，但允许指定输出目标（测试中用于捕获日志）。
func InitWithWriter(env string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	switch env {
	case "dev":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		return
	case "test":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
