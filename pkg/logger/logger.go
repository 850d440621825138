package logger

import (
	"context"

	"go.uber.org/zap"

	"mailsignal/pkg/trace"
)

func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace 从 context 中提取 run_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	runID := trace.FromContext(ctx)
	if runID != "" {
		return logger.With(zap.String("run_id", runID))
	}
	return logger
}
