package types

import "context"

// contextKey 用作 context.Context 中的键。
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyJobID     contextKey = "job_id"
)

// WithRequestID 把入站请求 ID 写入 context。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID 从 context 取出入站请求 ID。
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithJobID 把网关任务 ID 写入 context。
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyJobID, id)
}

// JobID 从 context 取出网关任务 ID。
func JobID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyJobID).(string)
	return v, ok && v != ""
}
