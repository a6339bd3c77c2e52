// Package logx configures the zerolog global logger for the bot and the
// render worker and tags events with the session they belong to.
package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey int

const (
	keySession ctxKey = iota
	keyUser
)

// Rotation of LOG_FILE. Staged video names and user ids are the bulk of what
// is written, a week of that fits comfortably.
const (
	fileMaxMB      = 50
	fileMaxBackups = 3
	fileMaxAgeDays = 7
)

type Config struct {
	Service string // "bot" or "worker", emitted as svc
	Level   string // zerolog level name, info when unknown
	Format  string // "console" for humans, anything else is json
	File    string // optional copy of every line, rotated
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_FILE.
func FromEnv(service string) Config {
	return Config{
		Service: service,
		Level:   strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		Format:  strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		File:    strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// Setup installs the logger as zerolog's global and returns it.
func Setup(c Config) zerolog.Logger {
	return setup(c, os.Stdout)
}

func setup(c Config, stdout io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(output(c, stdout)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()
	return log.Logger
}

func output(c Config, stdout io.Writer) io.Writer {
	var w io.Writer = stdout
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.Kitchen}
	}
	if c.File == "" {
		return w
	}
	// the file always gets json so it can be grepped with jq
	return zerolog.MultiLevelWriter(w, &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    fileMaxMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
		Compress:   true,
	})
}

// WithSession tags ctx so FromCtx adds sid and uid to every event. An empty
// sessionID is left out; handlers log before a session exists.
func WithSession(ctx context.Context, sessionID string, userID int64) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, keySession, sessionID)
	}
	return context.WithValue(ctx, keyUser, userID)
}

// FromCtx is the global logger with the session fields of ctx attached.
func FromCtx(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return log.Logger
	}
	c := log.Logger.With()
	if v, ok := ctx.Value(keySession).(string); ok {
		c = c.Str("sid", v)
	}
	if v, ok := ctx.Value(keyUser).(int64); ok {
		c = c.Int64("uid", v)
	}
	return c.Logger()
}
