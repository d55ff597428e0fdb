// Package logger is the zap-backed structured logger of the server, the
// worker and the seed tool. Lines logged through a context carry the request
// id, trace id and actor of the posting they belong to.
package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "stockledger/internal/core/context"
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

// Config selects level and encoding.
type Config struct {
	Level string
	// Development switches to colored console output.
	Development bool
	// Process tags every line, e.g. "server" or "worker".
	Process string
}

func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Process != "" {
		zc.InitialFields = map[string]any{"process": cfg.Process}
	}

	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z.Sugar()}, nil
}

var current atomic.Pointer[Logger]

// Default returns the process logger, a production logger until SetDefault.
func Default() *Logger {
	if l := current.Load(); l != nil {
		return l
	}
	z, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}
	current.CompareAndSwap(nil, &Logger{z.Sugar()})
	return current.Load()
}

func SetDefault(l *Logger) { current.Store(l) }

// Nop discards everything.
func Nop() *Logger { return &Logger{zap.NewNop().Sugar()} }

// WithContext tags l with the request metadata of ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	req := appctx.FromContext(ctx)
	if req == nil {
		return l
	}
	return &Logger{l.With("trace_id", appctx.TraceID(ctx), "request_id", req.ID, "actor", appctx.Actor(ctx))}
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.With("component", name)}
}

type ctxKey struct{}

// WithFields returns ctx carrying a logger with extra fields. Job handlers tag
// their lines with the task and record they work on.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	base, ok := ctx.Value(ctxKey{}).(*Logger)
	if !ok {
		base = Default()
	}
	return context.WithValue(ctx, ctxKey{}, &Logger{base.With(keysAndValues...)})
}

// FromContext returns the logger of ctx, or Default, tagged with request metadata.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l.WithContext(ctx)
	}
	return Default().WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}
