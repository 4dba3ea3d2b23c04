// Package log provides structured, leveled logging with context propagation,
// built on zap. The Logger interface keeps the call shape callers need
// (With, Info/Warn/Error taking a context first) independent of the backend.
package log

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled, structured logging interface used throughout Jarvis.
type Logger interface {
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)
	With(kv ...any) Logger
	Sync() error
}

// Config holds the flags controlling logger construction.
type Config struct {
	Level  string
	Format string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Level, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.Format, "log-format", "json", "log format: json or text")
}

// Validate checks the logger configuration.
func (c *Config) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q (must be debug, info, warn, or error)", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (must be json or text)", c.Format)
	}
	return nil
}

type zapLogger struct {
	z *zap.SugaredLogger
}

// New builds a Logger from the given Config.
func New(cfg Config) (Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var zcfg zap.Config
	if cfg.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "ts"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	z, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return &zapLogger{z: z.Sugar()}, nil
}

func (l *zapLogger) Info(_ context.Context, msg string, kv ...any) {
	l.z.Infow(msg, kv...)
}

func (l *zapLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.z.Warnw(msg, kv...)
}

func (l *zapLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	l.z.Errorw(msg, kv...)
}

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{z: l.z.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

type ctxKey struct{}

// WithContext attaches a Logger to ctx so downstream code can retrieve it
// without threading it through every function signature.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the Logger attached by WithContext, or a no-op
// fallback if none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return noop{}
}

type noop struct{}

func (noop) Info(context.Context, string, ...any)        {}
func (noop) Warn(context.Context, string, ...any)        {}
func (noop) Error(context.Context, error, string, ...any) {}
func (noop) With(...any) Logger                          { return noop{} }
func (noop) Sync() error                                 { return nil }
