package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey struct{}

// GenerateRunID 生成一个新的扫描运行 ID
func GenerateRunID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext 从 context 中获取 run_id
func FromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ctxKey{}).(string); ok {
		return runID
	}
	return ""
}

// WithContext 将 run_id 添加到 context 中
func WithContext(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// HeaderName returns the HTTP header used to propagate the run id to the
// mail provider, so provider-side request logs can be correlated with a run.
func HeaderName() string {
	return "X-Trace-ID"
}
