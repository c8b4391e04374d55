package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"goldlens/internal/config"
)

// Logger 全局日志接口，键值对形式传递字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

type zlog struct {
	l zerolog.Logger
}

// New 按配置创建 zerolog 日志，writer 支持 console 与 file
func New(cfg config.LogConfig) (Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range cfg.Writer {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			})
		default:
			return nil, fmt.Errorf("unknown log writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlog{l: l}, nil
}

// NewWriter 基于任意 io.Writer 创建日志，主要用于测试
func NewWriter(w io.Writer, level zerolog.Level) Logger {
	return &zlog{l: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop 创建不输出任何内容的日志
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

func (z *zlog) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }

func (z *zlog) Info(msg string, kv ...any) { z.l.Info().Fields(kv).Msg(msg) }

func (z *zlog) Warn(msg string, kv ...any) { z.l.Warn().Fields(kv).Msg(msg) }

func (z *zlog) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	z.l.Error().Err(err).Fields(kv).Msg(msg)
}

// With 返回带固定字段的子日志
func (z *zlog) With(kv ...any) Logger {
	return &zlog{l: z.l.With().Fields(kv).Logger()}
}
