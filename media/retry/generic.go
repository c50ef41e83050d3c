package retry

import "context"

// DoWithResultTyped 是 Retryer.DoWithResult 的类型安全封装。
//
//	resp, err := retry.DoWithResultTyped[*Response](r, ctx, func() (*Response, error) {
//	    return client.once(ctx, req)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
