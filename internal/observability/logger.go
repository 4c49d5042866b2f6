package observability

import (
	"context"

	"github.com/upb/ip-broker/internal/shared"
	"go.uber.org/zap"
)

// Logger provides structured logging with context awareness.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
}

// Field represents a structured log field.
type Field = zap.Field

type zapLogger struct {
	base *zap.Logger
}

// NewLogger wraps a zap logger. A nil logger yields a no-op logger.
func NewLogger(base *zap.Logger) Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &zapLogger{base: base}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx).Debug(msg, fields...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx).Info(msg, fields...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx).Warn(msg, fields...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx).Error(msg, fields...)
}

func (l *zapLogger) with(ctx context.Context) *zap.Logger {
	if requestID := shared.RequestID(ctx); requestID != "" {
		return l.base.With(zap.String("request_id", requestID))
	}
	return l.base
}
